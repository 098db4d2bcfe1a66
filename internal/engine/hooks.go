package engine

import "opdis/internal/disasm"

// Decoder produces an instruction from raw bytes. buf holds the bytes
// of the current region, offset is the position of vma inside buf and
// length the number of bytes left. Returning false makes the engine
// use its built-in decoder for this instruction.
type Decoder interface {
	Decode(buf []byte, offset int, vma uint64, length int) (disasm.Inst, bool)
}

// Handler tracks which instructions control-flow traversal has already
// seen. Returning true ends the current path.
type Handler interface {
	Visited(insn disasm.Inst) bool
}

// Resolver computes the branch target of an instruction.
type Resolver interface {
	Resolve(insn disasm.Inst) (uint64, bool)
}

type DecoderFunc func(buf []byte, offset int, vma uint64, length int) (disasm.Inst, bool)

func (f DecoderFunc) Decode(buf []byte, offset int, vma uint64, length int) (disasm.Inst, bool) {
	return f(buf, offset, vma, length)
}

type HandlerFunc func(insn disasm.Inst) bool

func (f HandlerFunc) Visited(insn disasm.Inst) bool { return f(insn) }

type ResolverFunc func(insn disasm.Inst) (uint64, bool)

func (f ResolverFunc) Resolve(insn disasm.Inst) (uint64, bool) { return f(insn) }

// Hooks holds the optional caller supplied behaviors. A nil slot uses
// the built-in default.
type Hooks struct {
	Decoder  Decoder
	Handler  Handler
	Resolver Resolver
}

// DefaultResolver follows the PC-relative operand of the instruction.
var DefaultResolver = ResolverFunc(func(insn disasm.Inst) (uint64, bool) {
	return insn.Target, insn.HasTarget
})

// VisitedSet is a Handler that reports an address as visited the second
// time it is seen. It is not safe for concurrent use.
type VisitedSet map[uint64]struct{}

func (v VisitedSet) Visited(insn disasm.Inst) bool {
	if _, ok := v[insn.VA]; ok {
		return true
	}
	v[insn.VA] = struct{}{}
	return false
}
