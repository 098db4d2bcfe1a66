package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"opdis/internal/disasm"
	"opdis/internal/elfx"
	"opdis/internal/engine"
)

// MaxStringLength bounds how far ReadCString scans for a terminator.
const MaxStringLength = 256

var reAddImm = regexp.MustCompile(`#\s*(0x[0-9a-fA-F]+|-?\d+)`)

// EscapeUnprintable keeps printable runes and escapes the rest as
// \uXXXX, or \xXX for bytes that are not valid UTF-8.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02X", b[0])
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "\\u%04X", r)
		}
		b = b[size:]
	}
	return sb.String()
}

// ReadCString reads a NUL terminated string at va. It returns the
// escaped text and the raw length. A string with no terminator within
// maxLen mapped bytes is not reported.
func ReadCString(im *elfx.Image, va uint64, maxLen int) (string, int, bool) {
	n := im.Mapped(va)
	if n == 0 {
		return "", 0, false
	}
	if n > uint64(maxLen) {
		n = uint64(maxLen)
	}
	raw, ok := im.SliceVA(va, n)
	if !ok {
		return "", 0, false
	}
	for i, b := range raw {
		if b == 0 {
			return EscapeUnprintable(raw[:i]), i, true
		}
	}
	return "", 0, false
}

func parseImm(s string) (int64, bool) {
	m := reAddImm.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// StringDetector reports instructions that take the address of a C
// string in a non-executable section: RIP-relative operands on x86-64,
// ADR and ADRP+ADD pairs on arm64.
type StringDetector struct {
	Image  *elfx.Image
	MinLen int // defaults to 4
}

func (s StringDetector) Detect(d *engine.Disassembly, findings []Finding) []Finding {
	if s.Image == nil {
		return findings
	}
	minLen := s.MinLen
	if minLen <= 0 {
		minLen = 4
	}
	pages := make(map[arm64asm.Reg]uint64)
	for _, in := range d.Insts() {
		for _, addr := range s.refs(in, pages) {
			sec := s.Image.SectionAt(addr)
			if sec == nil || sec.Exec() {
				continue
			}
			str, n, ok := ReadCString(s.Image, addr, MaxStringLength)
			if !ok || n < minLen {
				continue
			}
			findings = append(findings, Finding{
				VMA:    in.VA,
				Kind:   "string",
				Target: addr,
				Detail: `"` + str + `"`,
			})
		}
	}
	return findings
}

// refs returns the data addresses an instruction computes. pages tracks ADRP
// results per register and is reset at every branch.
func (s StringDetector) refs(in disasm.Inst, pages map[arm64asm.Reg]uint64) []uint64 {
	switch inst := in.Detail.(type) {
	case x86asm.Inst:
		var out []uint64
		for _, arg := range inst.Args {
			if m, ok := arg.(x86asm.Mem); ok && m.Base == x86asm.RIP {
				out = append(out, uint64(int64(in.End())+m.Disp))
			}
		}
		return out

	case arm64asm.Inst:
		if in.IsBranch() {
			clear(pages)
			return nil
		}
		switch inst.Op {
		case arm64asm.ADR:
			if rel, ok := inst.Args[1].(arm64asm.PCRel); ok {
				return []uint64{uint64(int64(in.VA) + int64(rel))}
			}
		case arm64asm.ADRP:
			dst, ok := inst.Args[0].(arm64asm.Reg)
			rel, ok2 := inst.Args[1].(arm64asm.PCRel)
			if ok && ok2 {
				pages[dst] = uint64(int64(in.VA&^0xfff) + int64(rel))
			}
		case arm64asm.ADD:
			src, ok := regOf(inst.Args[1])
			if !ok || inst.Args[2] == nil {
				return nil
			}
			page, ok := pages[src]
			if !ok {
				return nil
			}
			imm := inst.Args[2].String()
			if strings.Contains(imm, "LSL") {
				return nil
			}
			if v, ok := parseImm(imm); ok {
				return []uint64{uint64(int64(page) + v)}
			}
		}
	}
	return nil
}

func regOf(arg arm64asm.Arg) (arm64asm.Reg, bool) {
	switch r := arg.(type) {
	case arm64asm.Reg:
		return r, true
	case arm64asm.RegSP:
		return arm64asm.Reg(r), true
	}
	return 0, false
}
