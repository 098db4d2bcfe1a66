package disasm

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

func decodeX86(a *Arch, src []byte, pc uint64, syn Syntax, sym SymLookup) (Inst, error) {
	inst, err := x86asm.Decode(src, a.Mode)
	if err != nil {
		if errors.Is(err, x86asm.ErrTruncated) {
			return Inst{}, ErrTruncated
		}
		return Inst{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var lookup x86asm.SymLookup
	if sym != nil {
		lookup = x86asm.SymLookup(sym)
	}

	var text string
	switch syn {
	case SyntaxIntel:
		text = x86asm.IntelSyntax(inst, pc, lookup)
	case SyntaxGo:
		text = x86asm.GoSyntax(inst, pc, lookup)
	default:
		text = x86asm.GNUSyntax(inst, pc, lookup)
	}

	out := Inst{
		Size:   inst.Len,
		Text:   text,
		Op:     strings.ToLower(inst.Op.String()),
		Flow:   x86Flow(inst.Op),
		Detail: inst,
	}
	if out.Flow != FlowNone {
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			out.Target = pc + uint64(inst.Len) + uint64(int64(rel))
			if a.Mode == 16 {
				out.Target &= 0xffff
			}
			out.HasTarget = true
		}
	}
	return out, nil
}

func x86Flow(op x86asm.Op) Flow {
	switch op {
	case x86asm.JMP, x86asm.LJMP:
		return FlowJump
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JO, x86asm.JNO, x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return FlowCondJump
	case x86asm.CALL, x86asm.LCALL:
		return FlowCall
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return FlowReturn
	case x86asm.HLT, x86asm.UD1, x86asm.UD2:
		return FlowHalt
	}
	return FlowNone
}
