package engine

import (
	"slices"

	"opdis/internal/disasm"
)

// Sink receives the output of a run.
type Sink interface {
	Emit(insn disasm.Inst)
	Error(ev ErrorEvent)
}

// StreamSink forwards instructions to a callback and keeps the error
// events of the run.
type StreamSink struct {
	Fn     func(disasm.Inst)
	Events []ErrorEvent
}

func (s *StreamSink) Emit(insn disasm.Inst) { s.Fn(insn) }

func (s *StreamSink) Error(ev ErrorEvent) { s.Events = append(s.Events, ev) }

// Disassembly collects the instructions of a run indexed by address.
// Only the run writes to it; once returned, concurrent reads are safe.
type Disassembly struct {
	insns    map[uint64]disasm.Inst
	addrs    []uint64 // sorted, maintained by Emit
	errors   []ErrorEvent
	maxWidth int
}

// NewDisassembly returns an empty result set. maxWidth bounds the
// backward scan of Containing and is normally the architecture's
// maximum instruction length.
func NewDisassembly(maxWidth int) *Disassembly {
	if maxWidth <= 0 {
		maxWidth = disasm.MaxInsnLen()
	}
	return &Disassembly{insns: make(map[uint64]disasm.Inst), maxWidth: maxWidth}
}

func (d *Disassembly) Emit(insn disasm.Inst) {
	if _, ok := d.insns[insn.VA]; !ok {
		if n := len(d.addrs); n == 0 || d.addrs[n-1] < insn.VA {
			d.addrs = append(d.addrs, insn.VA)
		} else {
			i, _ := slices.BinarySearch(d.addrs, insn.VA)
			d.addrs = slices.Insert(d.addrs, i, insn.VA)
		}
	}
	d.insns[insn.VA] = insn
}

func (d *Disassembly) Error(ev ErrorEvent) { d.errors = append(d.errors, ev) }

// Len returns the number of instructions.
func (d *Disassembly) Len() int { return len(d.insns) }

// Get returns the instruction starting at va.
func (d *Disassembly) Get(va uint64) (disasm.Inst, bool) {
	in, ok := d.insns[va]
	return in, ok
}

// Addresses returns the instruction addresses in ascending order. The
// slice is shared and must not be modified.
func (d *Disassembly) Addresses() []uint64 { return d.addrs }

// Insts returns the instructions in address order.
func (d *Disassembly) Insts() disasm.Stream {
	out := make(disasm.Stream, 0, len(d.insns))
	for _, va := range d.Addresses() {
		out = append(out, d.insns[va])
	}
	return out
}

// Errors returns the error events recorded during the run.
func (d *Disassembly) Errors() []ErrorEvent { return d.errors }

// MaxWidth returns the backward scan bound used by Containing.
func (d *Disassembly) MaxWidth() int { return d.maxWidth }

// Containing returns the instruction whose encoding covers va. The scan
// walks back at most MaxWidth bytes and stops at the first instruction
// it meets.
func (d *Disassembly) Containing(va uint64) (disasm.Inst, bool) {
	var lo uint64
	if va > uint64(d.maxWidth) {
		lo = va - uint64(d.maxWidth)
	}
	for a := va; ; a-- {
		if in, ok := d.insns[a]; ok {
			if a == va || in.Contains(va) {
				return in, true
			}
			return disasm.Inst{}, false
		}
		if a == lo {
			return disasm.Inst{}, false
		}
	}
}
