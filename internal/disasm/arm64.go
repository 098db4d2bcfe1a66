package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

func decodeARM64(a *Arch, src []byte, pc uint64, syn Syntax, sym SymLookup) (Inst, error) {
	if len(src) < 4 {
		return Inst{}, ErrTruncated
	}
	inst, err := arm64asm.Decode(src)
	if err != nil {
		return Inst{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var text string
	if syn == SyntaxGo {
		text = arm64asm.GoSyntax(inst, pc, sym, nil)
	} else {
		text = arm64asm.GNUSyntax(inst)
	}

	out := Inst{
		Size:   4,
		Text:   text,
		Op:     strings.ToLower(inst.Op.String()),
		Flow:   arm64Flow(inst),
		Detail: inst,
	}
	if out.Flow != FlowNone {
		for _, arg := range inst.Args {
			if arg == nil {
				break
			}
			if rel, ok := arg.(arm64asm.PCRel); ok {
				out.Target = uint64(int64(pc) + int64(rel))
				out.HasTarget = true
				break
			}
		}
	}
	return out, nil
}

func arm64Flow(inst arm64asm.Inst) Flow {
	switch inst.Op {
	case arm64asm.B:
		// B.cond carries the condition as its first argument.
		if _, ok := inst.Args[0].(arm64asm.Cond); ok {
			return FlowCondJump
		}
		return FlowJump
	case arm64asm.BR:
		return FlowJump
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return FlowCondJump
	case arm64asm.BL, arm64asm.BLR:
		return FlowCall
	case arm64asm.RET, arm64asm.ERET:
		return FlowReturn
	case arm64asm.BRK, arm64asm.HLT:
		return FlowHalt
	}
	return FlowNone
}
