package engine

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/charmbracelet/log"

	"opdis/internal/disasm"
	"opdis/internal/target"
)

// yieldEvery is the number of instructions decoded between scheduler
// yields.
const yieldEvery = 1024

// region is a contiguous run of readable bytes.
type region struct {
	base uint64
	data []byte
}

func (rg region) end() uint64 { return rg.base + uint64(len(rg.data)) }

// run is the state of one disassembly call.
type run struct {
	cfg     Config
	arch    *disasm.Arch
	syntax  disasm.Syntax
	hooks   Hooks
	tgt     *target.Target
	sink    Sink
	log     *log.Logger
	symbols disasm.SymLookup

	count   int
	seen    map[uint64]struct{}
	stopped bool
}

func (r *run) dispatch(s Strategy, req Request) error {
	start, end, ok := r.tgt.Bounds()
	if !ok && !req.HasVMA && s != StrategyEntry && s != StrategySingle && s != StrategyCflow {
		return fmt.Errorf("%w: target has no code region", target.ErrTarget)
	}

	switch s {
	case StrategySingle, StrategyCflow:
		addr := start
		if req.HasVMA {
			addr = req.VMA
		} else if t := r.tgt.Kind(); t == target.KindImage {
			addr, _ = r.tgt.Entry()
		}
		if s == StrategySingle {
			r.single(addr)
			return nil
		}
		lo, hi := r.window(addr, req)
		r.cflow(addr, lo, hi)

	case StrategyLinear, StrategySection:
		addr := start
		if req.HasVMA {
			addr = req.VMA
		}
		stop := end
		switch {
		case req.HasLen:
			stop = addr + req.Len
		case addr < start || addr >= end:
			stop = addr + r.mapped(addr)
		}
		r.linear(addr, stop)

	case StrategySymbol:
		addr := r.tgt.Symbol().Addr
		if req.HasVMA {
			addr = req.VMA
		}
		lo, hi := r.window(addr, req)
		r.cflow(addr, lo, hi)

	case StrategyEntry:
		addr, _ := r.tgt.Entry()
		if req.HasVMA {
			addr = req.VMA
		}
		lo, hi := r.window(addr, req)
		r.cflow(addr, lo, hi)
	}
	return nil
}

// window returns the address range control-flow strategies may
// follow. Without a length the whole target is reachable.
func (r *run) window(addr uint64, req Request) (lo, hi uint64) {
	if req.HasLen {
		return addr, addr + req.Len
	}
	return 0, math.MaxUint64
}

func (r *run) mapped(addr uint64) uint64 {
	b, ok := r.tgt.Read(addr, math.MaxInt)
	if !ok {
		return 0
	}
	return uint64(len(b))
}

// read fetches the bytes in [addr, stop) that the target maps.
func (r *run) read(addr, stop uint64) (region, bool) {
	n := math.MaxInt
	if stop != math.MaxUint64 && stop-addr < uint64(math.MaxInt) {
		n = int(stop - addr)
	}
	b, ok := r.tgt.Read(addr, n)
	if !ok || len(b) == 0 {
		kind := EventBounds
		if r.tgt.Image() != nil {
			kind = EventBinaryFormat
		}
		r.event(kind, addr, fmt.Sprintf("address %#x is not mapped", addr))
		return region{}, false
	}
	return region{base: addr, data: b}, true
}

func (r *run) event(kind EventKind, va uint64, msg string) {
	ev := ErrorEvent{Kind: kind, VMA: va, Message: msg}
	r.log.Warn("Decode problem", "kind", string(kind), "vma", fmt.Sprintf("%#x", va), "msg", msg)
	r.sink.Error(ev)
}

// decode decodes the instruction at va, trying the caller's decoder
// first.
func (r *run) decode(rg region, va uint64) (disasm.Inst, bool) {
	off := int(va - rg.base)
	if va < rg.base || off >= len(rg.data) {
		r.event(EventBounds, va, "address outside decode region")
		return disasm.Inst{}, false
	}

	if r.hooks.Decoder != nil {
		in, ok, err := r.callDecoder(rg.data, off, va)
		switch {
		case err != nil:
			r.event(EventUnknown, va, err.Error())
		case ok && in.Size <= 0:
			r.event(EventDecode, va, "decoder produced an empty instruction")
			return disasm.Inst{}, false
		case ok:
			in.VA = va
			if in.Bytes == nil {
				in.Bytes = append([]byte(nil), rg.data[off:min(off+in.Size, len(rg.data))]...)
			}
			return in, true
		}
	}

	in, err := r.arch.Decode(rg.data[off:], va, r.syntax, r.symbols)
	if err != nil {
		if errors.Is(err, disasm.ErrTruncated) {
			r.event(EventBounds, va, "instruction extends past end of region")
		} else {
			r.event(EventInvalidInsn, va, err.Error())
		}
		return disasm.Inst{}, false
	}
	return in, true
}

func (r *run) callDecoder(buf []byte, off int, va uint64) (in disasm.Inst, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("decoder panic: %v", p)
		}
	}()
	in, ok = r.hooks.Decoder.Decode(buf, off, va, len(buf)-off)
	return in, ok, nil
}

func (r *run) visited(in disasm.Inst) (seen bool) {
	if r.hooks.Handler == nil {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			r.event(EventUnknown, in.VA, fmt.Sprintf("handler panic: %v", p))
			seen = false
		}
	}()
	return r.hooks.Handler.Visited(in)
}

func (r *run) resolve(in disasm.Inst) (addr uint64, ok bool) {
	res := r.hooks.Resolver
	if res == nil {
		res = DefaultResolver
	}
	defer func() {
		if p := recover(); p != nil {
			r.event(EventUnknown, in.VA, fmt.Sprintf("resolver panic: %v", p))
			addr, ok = 0, false
		}
	}()
	return res.Resolve(in)
}

// emit delivers an instruction, enforcing the item limit.
func (r *run) emit(in disasm.Inst) {
	if r.cfg.MaxInsns > 0 && r.count >= r.cfg.MaxInsns {
		r.event(EventItemLimit, in.VA, fmt.Sprintf("limit of %d instructions reached", r.cfg.MaxInsns))
		r.stopped = true
		return
	}
	r.count++
	r.log.Debug("Decoded", "vma", fmt.Sprintf("%#x", in.VA), "text", in.Text)
	r.sink.Emit(in)
	if r.count%yieldEvery == 0 {
		runtime.Gosched()
	}
}

func (r *run) single(addr uint64) {
	rg, ok := r.read(addr, math.MaxUint64)
	if !ok {
		return
	}
	if in, ok := r.decode(rg, addr); ok {
		r.emit(in)
	}
}

// linear decodes sequentially over [start, stop). Undecodable bytes are
// skipped one at a time.
func (r *run) linear(start, stop uint64) {
	if stop <= start {
		r.event(EventBounds, start, "empty range")
		return
	}
	rg, ok := r.read(start, stop)
	if !ok {
		return
	}
	if rg.end() < stop {
		r.event(EventBounds, rg.end(), fmt.Sprintf("range truncated to %d bytes", len(rg.data)))
		stop = rg.end()
	}

	for va := start; va < stop && !r.stopped; {
		in, ok := r.decode(rg, va)
		if !ok {
			va++
			continue
		}
		r.emit(in)
		va += uint64(in.Size)
	}
}

// cflow follows control flow from start. Branch targets outside
// [lo, hi) are reported and not followed.
func (r *run) cflow(start, lo, hi uint64) {
	var work worklist
	work.Push(start)

	for work.Len() > 0 && !r.stopped {
		addr, _ := work.Pop()
		if addr < lo || addr >= hi {
			r.event(EventBounds, addr, fmt.Sprintf("branch target %#x outside range", addr))
			continue
		}
		if _, dup := r.seen[addr]; dup {
			continue
		}
		rg, ok := r.read(addr, hi)
		if !ok {
			continue
		}

		for va := addr; va < rg.end() && !r.stopped; {
			if _, dup := r.seen[va]; dup {
				break
			}
			in, ok := r.decode(rg, va)
			if !ok {
				break
			}
			r.seen[va] = struct{}{}
			if r.visited(in) {
				break
			}
			r.emit(in)

			if in.Flow == disasm.FlowJump || in.Flow == disasm.FlowCondJump || in.Flow == disasm.FlowCall {
				if dst, ok := r.resolve(in); ok {
					if _, dup := r.seen[dst]; !dup {
						work.Push(dst)
					}
				}
			}
			if in.Unconditional() {
				break
			}
			va = in.End()
		}
	}
}
