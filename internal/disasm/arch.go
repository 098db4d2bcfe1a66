package disasm

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
)

// Syntax selects the assembler dialect used for Inst.Text.
type Syntax string

const (
	SyntaxDefault Syntax = ""
	SyntaxATT     Syntax = "att"
	SyntaxIntel   Syntax = "intel"
	SyntaxGo      Syntax = "go"
)

// Syntaxes lists the accepted syntax names.
func Syntaxes() []string {
	return []string{string(SyntaxATT), string(SyntaxIntel), string(SyntaxGo)}
}

// ParseSyntax maps a syntax name to a Syntax. The empty string selects
// the architecture's preferred dialect.
func ParseSyntax(name string) (Syntax, error) {
	switch s := Syntax(strings.ToLower(strings.TrimSpace(name))); s {
	case SyntaxDefault, SyntaxATT, SyntaxIntel, SyntaxGo:
		return s, nil
	case "gnu":
		return SyntaxATT, nil
	case "plan9":
		return SyntaxGo, nil
	}
	return SyntaxDefault, fmt.Errorf("unknown syntax %q", name)
}

// SymLookup resolves an address to the containing symbol name and
// its base address. It returns "", 0 when nothing matches.
type SymLookup func(addr uint64) (string, uint64)

type decodeFunc func(a *Arch, src []byte, pc uint64, syn Syntax, sym SymLookup) (Inst, error)

// Arch describes a supported instruction set variant.
type Arch struct {
	Name       string
	Machine    elf.Machine
	Mode       int // x86 operand size: 16, 32 or 64
	MaxInsnLen int
	ByteOrder  binary.ByteOrder
	Syntax     Syntax // preferred syntax when none is configured

	decode decodeFunc
}

var archs = []*Arch{
	{Name: "8086", Machine: elf.EM_386, Mode: 16, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeX86},
	{Name: "x86", Machine: elf.EM_386, Mode: 32, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeX86},
	{Name: "x86_att", Machine: elf.EM_386, Mode: 32, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeX86},
	{Name: "x86_intel", Machine: elf.EM_386, Mode: 32, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxIntel, decode: decodeX86},
	{Name: "x86_64", Machine: elf.EM_X86_64, Mode: 64, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeX86},
	{Name: "x86_64_att", Machine: elf.EM_X86_64, Mode: 64, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeX86},
	{Name: "x86_64_intel", Machine: elf.EM_X86_64, Mode: 64, MaxInsnLen: 15, ByteOrder: binary.LittleEndian, Syntax: SyntaxIntel, decode: decodeX86},
	{Name: "arm", Machine: elf.EM_ARM, MaxInsnLen: 4, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeARM},
	{Name: "arm64", Machine: elf.EM_AARCH64, MaxInsnLen: 4, ByteOrder: binary.LittleEndian, Syntax: SyntaxATT, decode: decodeARM64},
}

var archAliases = map[string]string{
	"i386":    "x86",
	"i8086":   "8086",
	"amd64":   "x86_64",
	"x86-64":  "x86_64",
	"aarch64": "arm64",
}

// LookupArch returns the architecture registered under name.
func LookupArch(name string) (*Arch, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := archAliases[name]; ok {
		name = alias
	}
	for _, a := range archs {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Architectures lists the names of all registered architectures.
func Architectures() []string {
	names := make([]string, 0, len(archs))
	for _, a := range archs {
		names = append(names, a.Name)
	}
	return names
}

// ArchForMachine picks the canonical architecture for an ELF machine.
func ArchForMachine(m elf.Machine) (*Arch, bool) {
	switch m {
	case elf.EM_386:
		return LookupArch("x86")
	case elf.EM_X86_64:
		return LookupArch("x86_64")
	case elf.EM_ARM:
		return LookupArch("arm")
	case elf.EM_AARCH64:
		return LookupArch("arm64")
	}
	return nil, false
}

// MaxInsnLen returns the widest instruction encoding of any registered
// architecture.
func MaxInsnLen() int {
	return slices.MaxFunc(archs, func(a, b *Arch) int { return a.MaxInsnLen - b.MaxInsnLen }).MaxInsnLen
}

func (a *Arch) String() string { return a.Name }

// SyntaxFor returns s, or the architecture's preferred syntax when s is
// the default.
func (a *Arch) SyntaxFor(s Syntax) Syntax {
	if s == SyntaxDefault {
		return a.Syntax
	}
	return s
}

// Decode decodes the instruction at the start of src, assumed to be
// loaded at pc. The returned instruction owns a copy of its bytes.
func (a *Arch) Decode(src []byte, pc uint64, syn Syntax, sym SymLookup) (Inst, error) {
	if len(src) == 0 {
		return Inst{}, ErrTruncated
	}
	in, err := a.decode(a, src, pc, a.SyntaxFor(syn), sym)
	if err != nil {
		return Inst{}, err
	}
	in.VA = pc
	in.Bytes = slices.Clone(src[:in.Size])
	return in, nil
}
