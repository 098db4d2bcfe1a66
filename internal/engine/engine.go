// Package engine drives instruction decoding over a target according to
// a strategy, invoking caller hooks and delivering results to a sink.
package engine

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"opdis/internal/disasm"
	"opdis/internal/elfx"
	"opdis/internal/target"
)

// Symbolizer builds the address to symbol lookup used to label branch
// targets of an image.
type Symbolizer func(im *elfx.Image) disasm.SymLookup

// ImageSymbols labels addresses with the raw names from the image
// symbol table.
func ImageSymbols(im *elfx.Image) disasm.SymLookup {
	return func(addr uint64) (string, uint64) {
		if s, ok := im.SymbolAt(addr); ok {
			return s.Name, s.Addr
		}
		return "", 0
	}
}

// Override adjusts the per-run copies of the configuration and hooks.
type Override func(cfg *Config, hooks *Hooks) error

// Request describes a single disassembly call.
type Request struct {
	Strategy  Strategy
	VMA       uint64
	HasVMA    bool
	Len       uint64
	HasLen    bool
	Overrides []Override
}

// Engine holds the shared configuration and hooks. Runs snapshot both,
// so concurrent runs never observe each other's per-call overrides.
type Engine struct {
	mu         sync.RWMutex
	cfg        Config
	hooks      Hooks
	symbolizer Symbolizer
	logger     *log.Logger
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithSymbolizer(s Symbolizer) Option {
	return func(e *Engine) { e.symbolizer = s }
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, symbolizer: ImageSymbols}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}
	return e
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *log.Logger { return e.logger }

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Hooks returns the currently installed hooks.
func (e *Engine) Hooks() Hooks {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hooks
}

// Update mutates the shared configuration and hooks under the lock.
func (e *Engine) Update(fn func(cfg *Config, hooks *Hooks)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.cfg, &e.hooks)
}

// Collect runs req against t and returns the collected result set.
func (e *Engine) Collect(t *target.Target, req Request) (*Disassembly, error) {
	var out *Disassembly
	err := e.run(t, req, func(arch *disasm.Arch) Sink {
		out = NewDisassembly(arch.MaxInsnLen)
		return out
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Disassemble runs req against t, delivering results to sink.
func (e *Engine) Disassemble(t *target.Target, req Request, sink Sink) error {
	return e.run(t, req, func(*disasm.Arch) Sink { return sink })
}

func (e *Engine) run(t *target.Target, req Request, newSink func(*disasm.Arch) Sink) error {
	e.mu.RLock()
	cfg, hooks, symbolizer := e.cfg, e.hooks, e.symbolizer
	e.mu.RUnlock()

	im := t.Image()
	cfg.Seed(im)
	for _, o := range req.Overrides {
		if err := o(&cfg, &hooks); err != nil {
			return err
		}
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyLinear
	}
	if err := strategy.check(t); err != nil {
		return err
	}
	arch, syntax, ignored, err := cfg.resolve()
	if err != nil {
		return err
	}

	logger := e.logger.With("strategy", string(strategy), "target", t.Kind().String(), "arch", arch.Name)
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if len(ignored) > 0 {
		logger.Warn("Ignoring unknown decoder options", "options", ignored)
	}

	r := &run{
		cfg:    cfg,
		arch:   arch,
		syntax: syntax,
		hooks:  hooks,
		tgt:    t,
		sink:   newSink(arch),
		log:    logger,
		seen:   make(map[uint64]struct{}),
	}
	if im != nil && symbolizer != nil {
		r.symbols = symbolizer(im)
	}
	if err := r.dispatch(strategy, req); err != nil {
		return fmt.Errorf("%s: %w", strategy, err)
	}
	logger.Debug("Run finished", "insns", r.count)
	return nil
}
