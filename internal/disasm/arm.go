package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

func decodeARM(a *Arch, src []byte, pc uint64, syn Syntax, sym SymLookup) (Inst, error) {
	if len(src) < 4 {
		return Inst{}, ErrTruncated
	}
	inst, err := armasm.Decode(src, armasm.ModeARM)
	if err != nil {
		return Inst{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var text string
	if syn == SyntaxGo {
		text = armasm.GoSyntax(inst, pc, sym, nil)
	} else {
		text = armasm.GNUSyntax(inst)
	}

	name := inst.Op.String()
	base, cond, _ := strings.Cut(name, ".")
	out := Inst{
		Size:   inst.Len,
		Text:   text,
		Op:     strings.ToLower(name),
		Detail: inst,
	}

	switch base {
	case "B":
		out.Flow = FlowJump
	case "BL", "BLX":
		out.Flow = FlowCall
	case "BX":
		out.Flow = FlowJump
		if r, ok := inst.Args[0].(armasm.Reg); ok && r == armasm.LR {
			out.Flow = FlowReturn
		}
	case "POP", "LDM":
		for _, arg := range inst.Args {
			if list, ok := arg.(armasm.RegList); ok && list&(1<<armasm.PC) != 0 {
				out.Flow = FlowReturn
			}
		}
	case "UDF":
		out.Flow = FlowHalt
	}
	if cond != "" && out.Flow != FlowNone && out.Flow != FlowCall {
		out.Flow = FlowCondJump
	}

	if out.Flow != FlowNone {
		for _, arg := range inst.Args {
			if rel, ok := arg.(armasm.PCRel); ok {
				out.Target = uint64(int64(pc) + 8 + int64(rel))
				out.HasTarget = true
				break
			}
		}
	}
	return out, nil
}
