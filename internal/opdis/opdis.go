// Package opdis is the caller-facing disassembler. It accepts loosely
// typed argument maps, checks hook capabilities and forwards to the
// engine.
package opdis

import (
	"fmt"

	"github.com/charmbracelet/log"

	"opdis/internal/disasm"
	"opdis/internal/engine"
	"opdis/internal/target"
)

// Disassembler wraps an engine with map-based configuration.
type Disassembler struct {
	eng *engine.Engine
}

// New creates a Disassembler. Recognized keys are decoder, handler,
// resolver, syntax, debug, options, arch, machine and max_insns; other
// keys are ignored.
func New(args map[string]any, opts ...engine.Option) (*Disassembler, error) {
	d := &Disassembler{eng: engine.New(engine.Config{}, opts...)}
	overrides, err := configOverrides(args, d.eng.Logger())
	if err != nil {
		return nil, err
	}
	var applyErr error
	d.eng.Update(func(cfg *engine.Config, hooks *engine.Hooks) {
		for _, o := range overrides {
			if err := o(cfg, hooks); err != nil {
				applyErr = err
				return
			}
		}
	})
	if applyErr != nil {
		return nil, applyErr
	}
	return d, nil
}

// Engine returns the underlying engine.
func (d *Disassembler) Engine() *engine.Engine { return d.eng }

func asDecoder(v any) (engine.Decoder, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case engine.Decoder:
		return x, true
	case func([]byte, int, uint64, int) (disasm.Inst, bool):
		return engine.DecoderFunc(x), true
	}
	return nil, false
}

func asHandler(v any) (engine.Handler, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case engine.Handler:
		return x, true
	case func(disasm.Inst) bool:
		return engine.HandlerFunc(x), true
	}
	return nil, false
}

func asResolver(v any) (engine.Resolver, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case engine.Resolver:
		return x, true
	case func(disasm.Inst) (uint64, bool):
		return engine.ResolverFunc(x), true
	}
	return nil, false
}

// SetDecoder installs a decoder. nil restores the built-in decoder. A
// value without a Decode method is rejected and the previous decoder
// stays active.
func (d *Disassembler) SetDecoder(v any) bool {
	dec, ok := asDecoder(v)
	if ok {
		d.eng.Update(func(_ *engine.Config, h *engine.Hooks) { h.Decoder = dec })
	}
	return ok
}

// SetHandler installs a visited handler; nil restores the default.
func (d *Disassembler) SetHandler(v any) bool {
	hd, ok := asHandler(v)
	if ok {
		d.eng.Update(func(_ *engine.Config, h *engine.Hooks) { h.Handler = hd })
	}
	return ok
}

// SetResolver installs a branch target resolver; nil restores the default.
func (d *Disassembler) SetResolver(v any) bool {
	res, ok := asResolver(v)
	if ok {
		d.eng.Update(func(_ *engine.Config, h *engine.Hooks) { h.Resolver = res })
	}
	return ok
}

func (d *Disassembler) Hooks() engine.Hooks { return d.eng.Hooks() }

// Arch returns the configured architecture, "unknown" when unset.
func (d *Disassembler) Arch() string { return d.eng.Config().ArchName() }

func (d *Disassembler) SetArch(name string) error {
	if _, ok := disasm.LookupArch(name); !ok {
		return fmt.Errorf("%w %q", engine.ErrUnknownArch, name)
	}
	d.eng.Update(func(c *engine.Config, _ *engine.Hooks) { c.Arch = name })
	return nil
}

func (d *Disassembler) Syntax() string { return string(d.eng.Config().Syntax) }

func (d *Disassembler) SetSyntax(name string) error {
	syn, err := disasm.ParseSyntax(name)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrUnknownSyntax, err)
	}
	d.eng.Update(func(c *engine.Config, _ *engine.Hooks) { c.Syntax = syn })
	return nil
}

func (d *Disassembler) Options() string { return d.eng.Config().Options }

func (d *Disassembler) SetOptions(opts string) {
	d.eng.Update(func(c *engine.Config, _ *engine.Hooks) { c.Options = opts })
}

func (d *Disassembler) Debug() bool { return d.eng.Config().Debug }

func (d *Disassembler) SetDebug(on bool) {
	d.eng.Update(func(c *engine.Config, _ *engine.Hooks) { c.Debug = on })
}

func (d *Disassembler) MaxInsns() int { return d.eng.Config().MaxInsns }

func (d *Disassembler) SetMaxInsns(n int) {
	d.eng.Update(func(c *engine.Config, _ *engine.Hooks) { c.MaxInsns = n })
}

// Disassemble resolves the target, applies the per-call arguments and
// returns the collected instructions. Owned target buffers are released
// before returning, on success and failure alike.
func (d *Disassembler) Disassemble(input any, args map[string]any) (*engine.Disassembly, error) {
	tgt, err := resolveTarget(input, args)
	if err != nil {
		return nil, err
	}
	defer tgt.Release()

	req, err := request(args, d.eng.Logger())
	if err != nil {
		return nil, err
	}
	return d.eng.Collect(tgt, req)
}

// Each is like Disassemble but hands each instruction to fn as it is
// decoded. The error events of the run are returned.
func (d *Disassembler) Each(input any, args map[string]any, fn func(disasm.Inst)) ([]engine.ErrorEvent, error) {
	tgt, err := resolveTarget(input, args)
	if err != nil {
		return nil, err
	}
	defer tgt.Release()

	req, err := request(args, d.eng.Logger())
	if err != nil {
		return nil, err
	}
	sink := &engine.StreamSink{Fn: fn}
	if err := d.eng.Disassemble(tgt, req, sink); err != nil {
		return nil, err
	}
	return sink.Events, nil
}

func resolveTarget(input any, args map[string]any) (*target.Target, error) {
	var opts []target.Option
	if v, ok := args[ArgBufferVMA]; ok && v != nil {
		vma, err := toUint64(ArgBufferVMA, v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, target.WithBase(vma))
	}
	return target.Resolve(input, opts...)
}

func request(args map[string]any, logger *log.Logger) (engine.Request, error) {
	var req engine.Request

	name := ""
	if v, ok := args[ArgStrategy]; ok && v != nil {
		s, err := toString(ArgStrategy, v)
		if err != nil {
			return req, err
		}
		name = s
	}
	s, err := engine.ParseStrategy(name)
	if err != nil {
		return req, err
	}
	req.Strategy = s

	if v, ok := args[ArgVMA]; ok && v != nil {
		if req.VMA, err = toUint64(ArgVMA, v); err != nil {
			return req, err
		}
		req.HasVMA = true
	}
	for _, key := range []string{ArgLen, ArgLength} {
		if v, ok := args[key]; ok && v != nil {
			if req.Len, err = toUint64(key, v); err != nil {
				return req, err
			}
			req.HasLen = true
		}
	}

	if req.Overrides, err = configOverrides(args, logger); err != nil {
		return req, err
	}
	return req, nil
}

// configOverrides turns the configuration keys of args into engine
// overrides. Values are validated here so errors surface before any
// decoding starts. Hook values are treated like the setters: one that
// does not implement the hook is skipped and the current hook stays.
func configOverrides(args map[string]any, logger *log.Logger) ([]engine.Override, error) {
	var out []engine.Override
	for key, v := range args {
		switch key {
		case ArgDecoder:
			dec, ok := asDecoder(v)
			if !ok {
				logger.Warn("Ignoring decoder", "type", fmt.Sprintf("%T", v))
				continue
			}
			out = append(out, func(_ *engine.Config, h *engine.Hooks) error { h.Decoder = dec; return nil })
		case ArgHandler:
			hd, ok := asHandler(v)
			if !ok {
				logger.Warn("Ignoring handler", "type", fmt.Sprintf("%T", v))
				continue
			}
			out = append(out, func(_ *engine.Config, h *engine.Hooks) error { h.Handler = hd; return nil })
		case ArgResolver:
			res, ok := asResolver(v)
			if !ok {
				logger.Warn("Ignoring resolver", "type", fmt.Sprintf("%T", v))
				continue
			}
			out = append(out, func(_ *engine.Config, h *engine.Hooks) error { h.Resolver = res; return nil })
		case ArgSyntax:
			s, err := toString(key, v)
			if err != nil {
				return nil, err
			}
			syn, err := disasm.ParseSyntax(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", engine.ErrUnknownSyntax, err)
			}
			out = append(out, func(c *engine.Config, _ *engine.Hooks) error { c.Syntax = syn; return nil })
		case ArgArch:
			s, err := toString(key, v)
			if err != nil {
				return nil, err
			}
			if _, ok := disasm.LookupArch(s); !ok {
				return nil, fmt.Errorf("%w %q", engine.ErrUnknownArch, s)
			}
			out = append(out, func(c *engine.Config, _ *engine.Hooks) error { c.Arch = s; return nil })
		case ArgMachine:
			m, err := toMachine(v)
			if err != nil {
				return nil, err
			}
			out = append(out, func(c *engine.Config, _ *engine.Hooks) error { c.Machine = m; return nil })
		case ArgOptions:
			s, err := toString(key, v)
			if err != nil {
				return nil, err
			}
			out = append(out, func(c *engine.Config, _ *engine.Hooks) error { c.Options = s; return nil })
		case ArgDebug:
			b, err := toBool(key, v)
			if err != nil {
				return nil, err
			}
			out = append(out, func(c *engine.Config, _ *engine.Hooks) error { c.Debug = b; return nil })
		case ArgMaxInsns:
			n, err := toUint64(key, v)
			if err != nil {
				return nil, err
			}
			out = append(out, func(c *engine.Config, _ *engine.Hooks) error { c.MaxInsns = int(n); return nil })
		}
	}
	return out, nil
}

// Strategies lists the supported strategy names.
func Strategies() []string { return engine.Strategies() }

// Architectures lists the supported architecture names.
func Architectures() []string { return disasm.Architectures() }

// Syntaxes lists the supported syntax names.
func Syntaxes() []string { return disasm.Syntaxes() }

// EventKinds lists the error event categories a run may report.
func EventKinds() []string {
	return []string{
		string(engine.EventBounds),
		string(engine.EventInvalidInsn),
		string(engine.EventDecode),
		string(engine.EventBinaryFormat),
		string(engine.EventItemLimit),
		string(engine.EventUnknown),
	}
}
