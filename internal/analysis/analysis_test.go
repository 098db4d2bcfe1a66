package analysis

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdis/internal/elfx"
	"opdis/internal/engine"
	"opdis/internal/target"
)

func testImage() *elfx.Image {
	im := elfx.NewImage(elf.EM_X86_64, 0x1000)
	im.AddSection(".text", 0x1000, []byte{
		0xe8, 0x05, 0x00, 0x00, 0x00, // 1000 call 100a
		0x74, 0x02, // 1005 je 1009
		0x90, // 1007 nop
		0xc3, // 1008 ret
		0xc3, // 1009 ret
		0x90, // 100a nop
		0xc3, // 100b ret
	}, true)
	im.AddSymbol("main", 0x1000, 10)
	im.AddSymbol("_ZN3foo3barEv", 0x100a, 2)
	return im
}

func TestCachedDemangle(t *testing.T) {
	assert.Equal(t, "foo::bar()", CachedDemangle("_ZN3foo3barEv"))
	assert.Equal(t, "foo::bar()", CachedDemangle("_ZN3foo3barEv"))
	assert.Equal(t, "plain_c", CachedDemangle("plain_c"))

	entries, hits := DemangleCacheStats()
	assert.GreaterOrEqual(t, entries, 2)
	assert.GreaterOrEqual(t, hits, 1)
}

func TestSymbolTable(t *testing.T) {
	st := NewSymbolTable(testImage())
	require.Equal(t, 2, st.Len())
	assert.Len(t, st.Functions(), 2)

	tests := []struct {
		addr uint64
		name string
		base uint64
	}{
		{0x1000, "main", 0x1000},
		{0x1008, "main", 0x1000},
		{0x100a, "foo::bar()", 0x100a},
		{0x100b, "foo::bar()", 0x100a},
		{0x100c, "", 0},
		{0x0fff, "", 0},
	}
	for _, tt := range tests {
		name, base := st.Lookup(tt.addr)
		assert.Equal(t, tt.name, name, "%#x", tt.addr)
		assert.Equal(t, tt.base, base, "%#x", tt.addr)
	}

	e, ok := st.Find("foo::bar")
	require.True(t, ok)
	assert.Equal(t, uint64(0x100a), e.Addr)
	_, ok = st.Find("_ZN3foo3barEv")
	assert.True(t, ok)
	_, ok = st.Find("baz")
	assert.False(t, ok)

	assert.Len(t, st.Filter("FOO"), 1)
}

func TestSymbolizerLabelsCalls(t *testing.T) {
	im := testImage()
	e := engine.New(engine.Config{}, engine.WithSymbolizer(Symbolizer))
	tgt, err := target.Resolve(im)
	require.NoError(t, err)

	d, err := e.Collect(tgt, engine.Request{Strategy: engine.StrategyEntry})
	require.NoError(t, err)
	call, ok := d.Get(0x1000)
	require.True(t, ok)
	assert.Contains(t, call.Text, "foo::bar()")
}

func TestDetectorChain(t *testing.T) {
	im := testImage()
	tgt, err := target.Resolve(im)
	require.NoError(t, err)
	d, err := engine.New(engine.Config{}).Collect(tgt, engine.Request{Strategy: engine.StrategyEntry})
	require.NoError(t, err)

	chain := NewDetectorChain(
		XrefDetector{Symbols: NewSymbolTable(im), Calls: true, Jumps: true},
		ErrorDetector{},
	)
	findings := chain.Detect(d, nil)
	require.Len(t, findings, 2)
	assert.Equal(t, Finding{VMA: 0x1000, Kind: "call", Target: 0x100a, Detail: "foo::bar()"}, findings[0])
	assert.Equal(t, Finding{VMA: 0x1005, Kind: "jump", Target: 0x1009, Detail: "main"}, findings[1])
	assert.Equal(t, "0x1000 call 0x100a <foo::bar()>", findings[0].String())

	calls := XrefDetector{Calls: true}.Detect(d, nil)
	assert.Len(t, calls, 1)
}

func TestStrict(t *testing.T) {
	e := engine.New(engine.Config{Arch: "x86_64"})

	tgt, err := target.Resolve([]byte{0x90, 0xc3})
	require.NoError(t, err)
	d, err := e.Collect(tgt, engine.Request{})
	require.NoError(t, err)
	assert.NoError(t, Strict(d))

	tgt, err = target.Resolve([]byte{0x90, 0x48})
	require.NoError(t, err)
	d, err = e.Collect(tgt, engine.Request{})
	require.NoError(t, err)

	err = Strict(d)
	assert.ErrorIs(t, err, ErrStrict)
	assert.ErrorContains(t, err, "bounds: ")
	assert.NoError(t, Strict(d, engine.EventInvalidInsn))
	assert.Error(t, Strict(d, engine.EventBounds))

	findings := ErrorDetector{Kinds: []engine.EventKind{engine.EventBounds}}.Detect(d, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, uint64(1), findings[0].VMA)
}

func TestStringDetector(t *testing.T) {
	tests := []struct {
		name    string
		machine elf.Machine
		text    []byte
		rodata  []byte
		want    []Finding
	}{
		{
			name:    "x86_64 rip relative",
			machine: elf.EM_X86_64,
			text: []byte{
				0x48, 0x8d, 0x05, 0xf9, 0x0f, 0x00, 0x00, // 1000 lea 0xff9(%rip),%rax
				0x48, 0x8d, 0x3d, 0xf8, 0x0f, 0x00, 0x00, // 1007 lea 0xff8(%rip),%rdi
				0x48, 0x8d, 0x35, 0xeb, 0xff, 0xff, 0xff, // 100e lea -0x15(%rip),%rsi
				0xc3, // 1015 ret
			},
			rodata: []byte("hello\x00ab\x00"),
			want:   []Finding{{VMA: 0x1000, Kind: "string", Target: 0x2000, Detail: `"hello"`}},
		},
		{
			name:    "arm64 adrp add",
			machine: elf.EM_AARCH64,
			text: []byte{
				0x00, 0x00, 0x00, 0xb0, // 1000 adrp x0, 0x2000
				0x00, 0x08, 0x00, 0x91, // 1004 add x0, x0, #0x2
				0xc0, 0x03, 0x5f, 0xd6, // 1008 ret
			},
			rodata: []byte("\x00\x00w\x01rld\x00"),
			want:   []Finding{{VMA: 0x1004, Kind: "string", Target: 0x2002, Detail: `"w\u0001rld"`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := elfx.NewImage(tt.machine, 0x1000)
			im.AddSection(".text", 0x1000, tt.text, true)
			im.AddSection(".rodata", 0x2000, tt.rodata, false)
			tgt, err := target.Resolve(im)
			require.NoError(t, err)
			d, err := engine.New(engine.Config{}).Collect(tgt, engine.Request{Strategy: engine.StrategyEntry})
			require.NoError(t, err)

			assert.Equal(t, tt.want, StringDetector{Image: im}.Detect(d, nil))
			assert.Empty(t, StringDetector{}.Detect(d, nil))
		})
	}
}

func TestReadCString(t *testing.T) {
	im := elfx.NewImage(elf.EM_X86_64, 0)
	im.AddSection(".rodata", 0x2000, []byte("abc\x00\xffz\x00open"), false)

	s, n, ok := ReadCString(im, 0x2000, MaxStringLength)
	require.True(t, ok)
	assert.Equal(t, "abc", s)
	assert.Equal(t, 3, n)

	s, _, ok = ReadCString(im, 0x2004, MaxStringLength)
	require.True(t, ok)
	assert.Equal(t, `\xFFz`, s)

	_, _, ok = ReadCString(im, 0x2007, MaxStringLength)
	assert.False(t, ok, "unterminated")
	_, _, ok = ReadCString(im, 0x3000, MaxStringLength)
	assert.False(t, ok, "unmapped")
	_, _, ok = ReadCString(im, 0x2000, 2)
	assert.False(t, ok, "too long")
}
