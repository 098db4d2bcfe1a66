// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

import "errors"

// Flow classifies how an instruction transfers control.
type Flow uint8

const (
	FlowNone Flow = iota
	FlowJump
	FlowCondJump
	FlowCall
	FlowReturn
	FlowHalt
)

var flowNames = [...]string{"none", "jump", "cond-jump", "call", "return", "halt"}

func (f Flow) String() string {
	if int(f) < len(flowNames) {
		return flowNames[f]
	}
	return "unknown"
}

var (
	// ErrTruncated is returned when the input ends inside an instruction.
	ErrTruncated = errors.New("truncated instruction")
	// ErrInvalid is returned for byte sequences that are not a valid encoding.
	ErrInvalid = errors.New("invalid instruction")
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA        uint64 // virtual address of instruction
	Size      int    // decoded length in bytes
	Bytes     []byte // raw encoding, owned copy
	Text      string // formatted disassembly string
	Op        string // mnemonic in lowercase
	Flow      Flow
	Target    uint64 // PC-relative branch or call target
	HasTarget bool
	Detail    any // architecture specific decoded value (x86asm.Inst, ...)
}

// End returns the address just past the instruction.
func (i Inst) End() uint64 { return i.VA + uint64(i.Size) }

// Contains reports whether va falls inside the instruction's encoding.
func (i Inst) Contains(va uint64) bool {
	return va >= i.VA && va < i.End()
}

// IsBranch reports whether the instruction may transfer control
// somewhere other than the next instruction.
func (i Inst) IsBranch() bool {
	return i.Flow != FlowNone
}

// Unconditional reports whether execution never falls through to the
// next instruction.
func (i Inst) Unconditional() bool {
	switch i.Flow {
	case FlowJump, FlowReturn, FlowHalt:
		return true
	}
	return false
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Size returns the total number of bytes covered by the stream.
func (s Stream) Size() int {
	n := 0
	for _, in := range s {
		n += in.Size
	}
	return n
}
