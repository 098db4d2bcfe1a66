package disasm

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupArch(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		maxLen  int
		syntax  Syntax
		machine elf.Machine
	}{
		{"x86_64", "x86_64", 15, SyntaxATT, elf.EM_X86_64},
		{"amd64", "x86_64", 15, SyntaxATT, elf.EM_X86_64},
		{"x86_intel", "x86_intel", 15, SyntaxIntel, elf.EM_386},
		{"8086", "8086", 15, SyntaxATT, elf.EM_386},
		{"AArch64", "arm64", 4, SyntaxATT, elf.EM_AARCH64},
		{"arm", "arm", 4, SyntaxATT, elf.EM_ARM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := LookupArch(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, a.Name)
			assert.Equal(t, tt.maxLen, a.MaxInsnLen)
			assert.Equal(t, tt.syntax, a.Syntax)
			assert.Equal(t, tt.machine, a.Machine)
		})
	}

	_, ok := LookupArch("z80")
	assert.False(t, ok)
}

func TestArchForMachine(t *testing.T) {
	a, ok := ArchForMachine(elf.EM_X86_64)
	require.True(t, ok)
	assert.Equal(t, "x86_64", a.Name)

	_, ok = ArchForMachine(elf.EM_MIPS)
	assert.False(t, ok)
	assert.Equal(t, 15, MaxInsnLen())
}

func TestParseSyntax(t *testing.T) {
	for in, want := range map[string]Syntax{
		"":      SyntaxDefault,
		"att":   SyntaxATT,
		"gnu":   SyntaxATT,
		"Intel": SyntaxIntel,
		"go":    SyntaxGo,
		"plan9": SyntaxGo,
	} {
		got, err := ParseSyntax(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSyntax("masm")
	assert.Error(t, err)
}

func TestDecodeX86(t *testing.T) {
	a, _ := LookupArch("x86_64")

	tests := []struct {
		name      string
		code      []byte
		op        string
		size      int
		flow      Flow
		target    uint64
		hasTarget bool
	}{
		{"push", []byte{0x55, 0x90}, "push", 1, FlowNone, 0, false},
		{"ret", []byte{0xc3}, "ret", 1, FlowReturn, 0, false},
		{"self-jump", []byte{0xeb, 0xfe}, "jmp", 2, FlowJump, 0x1000, true},
		{"call-next", []byte{0xe8, 0, 0, 0, 0}, "call", 5, FlowCall, 0x1005, true},
		{"je", []byte{0x74, 0x02}, "je", 2, FlowCondJump, 0x1004, true},
		{"hlt", []byte{0xf4}, "hlt", 1, FlowHalt, 0, false},
		{"indirect-jump", []byte{0xff, 0xe0}, "jmp", 2, FlowJump, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := a.Decode(tt.code, 0x1000, SyntaxDefault, nil)
			require.NoError(t, err)
			assert.Equal(t, uint64(0x1000), in.VA)
			assert.Equal(t, tt.op, in.Op)
			assert.Equal(t, tt.size, in.Size)
			assert.Equal(t, tt.code[:tt.size], in.Bytes)
			assert.Equal(t, tt.flow, in.Flow)
			assert.Equal(t, tt.hasTarget, in.HasTarget)
			assert.Equal(t, tt.target, in.Target)
		})
	}
}

func TestDecodeX86Syntax(t *testing.T) {
	a, _ := LookupArch("x86_64")
	code := []byte{0x48, 0x89, 0xe5} // mov rbp, rsp

	att, err := a.Decode(code, 0, SyntaxATT, nil)
	require.NoError(t, err)
	assert.Contains(t, att.Text, "%rsp")

	intel, err := a.Decode(code, 0, SyntaxIntel, nil)
	require.NoError(t, err)
	assert.Contains(t, intel.Text, "rbp, rsp")

	// The arch variant's preferred syntax applies only when none is given.
	ai, _ := LookupArch("x86_64_intel")
	def, err := ai.Decode(code, 0, SyntaxDefault, nil)
	require.NoError(t, err)
	assert.Equal(t, intel.Text, def.Text)
	forced, err := ai.Decode(code, 0, SyntaxATT, nil)
	require.NoError(t, err)
	assert.Equal(t, att.Text, forced.Text)
}

func TestDecodeOwnsBytes(t *testing.T) {
	a, _ := LookupArch("x86_64")
	code := []byte{0x90}
	in, err := a.Decode(code, 0, SyntaxDefault, nil)
	require.NoError(t, err)
	code[0] = 0xcc
	assert.Equal(t, []byte{0x90}, in.Bytes)
}

func TestDecodeErrors(t *testing.T) {
	x64, _ := LookupArch("x86_64")
	_, err := x64.Decode([]byte{0x48}, 0, SyntaxDefault, nil)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = x64.Decode(nil, 0, SyntaxDefault, nil)
	assert.ErrorIs(t, err, ErrTruncated)

	a64, _ := LookupArch("arm64")
	_, err = a64.Decode([]byte{0xc0, 0x03}, 0, SyntaxDefault, nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeARM64(t *testing.T) {
	a, _ := LookupArch("arm64")

	tests := []struct {
		name      string
		code      []byte
		op        string
		flow      Flow
		target    uint64
		hasTarget bool
	}{
		{"nop", []byte{0x1f, 0x20, 0x03, 0xd5}, "nop", FlowNone, 0, false},
		{"ret", []byte{0xc0, 0x03, 0x5f, 0xd6}, "ret", FlowReturn, 0, false},
		{"b-self", []byte{0x00, 0x00, 0x00, 0x14}, "b", FlowJump, 0x4000, true},
		{"bl-next", []byte{0x01, 0x00, 0x00, 0x94}, "bl", FlowCall, 0x4004, true},
		{"b.eq", []byte{0x40, 0x00, 0x00, 0x54}, "b", FlowCondJump, 0x4008, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := a.Decode(tt.code, 0x4000, SyntaxDefault, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.op, in.Op)
			assert.Equal(t, 4, in.Size)
			assert.Equal(t, tt.flow, in.Flow)
			assert.Equal(t, tt.hasTarget, in.HasTarget)
			assert.Equal(t, tt.target, in.Target)
		})
	}
}

func TestDecodeARM(t *testing.T) {
	a, _ := LookupArch("arm")

	in, err := a.Decode([]byte{0x1e, 0xff, 0x2f, 0xe1}, 0x8000, SyntaxDefault, nil) // bx lr
	require.NoError(t, err)
	assert.Equal(t, FlowReturn, in.Flow)

	in, err = a.Decode([]byte{0xfe, 0xff, 0xff, 0xea}, 0x8000, SyntaxDefault, nil) // b .
	require.NoError(t, err)
	assert.Equal(t, FlowJump, in.Flow)
	assert.True(t, in.HasTarget)
	assert.Equal(t, uint64(0x8000), in.Target)
}

func TestInstSpan(t *testing.T) {
	in := Inst{VA: 0x10, Size: 3}
	assert.Equal(t, uint64(0x13), in.End())
	assert.True(t, in.Contains(0x10))
	assert.True(t, in.Contains(0x12))
	assert.False(t, in.Contains(0x13))
	assert.False(t, in.Contains(0x0f))

	assert.True(t, Inst{Flow: FlowReturn}.Unconditional())
	assert.False(t, Inst{Flow: FlowCondJump}.Unconditional())
	assert.Equal(t, 4, Stream{{Size: 1}, {Size: 3}}.Size())
	assert.Equal(t, "cond-jump", FlowCondJump.String())
}
