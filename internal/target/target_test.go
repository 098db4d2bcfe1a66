package target

import (
	"debug/elf"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdis/internal/elfx"
)

func TestResolveBuffers(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  []byte
	}{
		{"bytes", []byte{0x90, 0xc3}, []byte{0x90, 0xc3}},
		{"string", "\x55\xc3", []byte{0x55, 0xc3}},
		{"ints", []int{0x55, 0x48, 0xc3}, []byte{0x55, 0x48, 0xc3}},
		{"reader", strings.NewReader("\x90"), []byte{0x90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, err := Resolve(tt.input, WithBase(0x400000))
			require.NoError(t, err)
			assert.Equal(t, KindBuffer, tgt.Kind())
			assert.Equal(t, tt.want, tgt.Buffer().Bytes())
			assert.Nil(t, tgt.Image())

			start, end, ok := tgt.Bounds()
			require.True(t, ok)
			assert.Equal(t, uint64(0x400000), start)
			assert.Equal(t, uint64(0x400000+len(tt.want)), end)
		})
	}
}

func TestResolveCopiesBytes(t *testing.T) {
	src := []byte{1, 2, 3}
	tgt, err := Resolve(src)
	require.NoError(t, err)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, tgt.Buffer().Bytes())

	tgt.Release()
	assert.True(t, tgt.Buffer().Released())
	_, ok := tgt.Read(0, 1)
	assert.False(t, ok)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  error
	}{
		{"empty bytes", []byte{}, ErrEmptyBuffer},
		{"empty string", "", ErrEmptyBuffer},
		{"nil", nil, ErrUnsupportedTarget},
		{"number", 42, ErrUnsupportedTarget},
		{"byte out of range", []int{1, 256}, ErrUnsupportedTarget},
		{"detached section", &elfx.Section{Name: ".text"}, ErrUnsupportedTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.input)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrTarget)
		})
	}

	_, err := Resolve(iotest.ErrReader(errors.New("boom")))
	assert.ErrorContains(t, err, "boom")
}

func TestResolveImageKinds(t *testing.T) {
	im := elfx.NewImage(elf.EM_X86_64, 0x1001)
	text := im.AddSection(".text", 0x1000, []byte{0x90, 0x90, 0xc3, 0xcc}, true)
	fn := im.AddSymbol("f", 0x1001, 2)

	sec, err := Resolve(text)
	require.NoError(t, err)
	assert.Equal(t, KindSection, sec.Kind())
	assert.Same(t, im, sec.Image())
	start, end, _ := sec.Bounds()
	assert.Equal(t, [2]uint64{0x1000, 0x1004}, [2]uint64{start, end})

	sym, err := Resolve(fn)
	require.NoError(t, err)
	assert.Equal(t, KindSymbol, sym.Kind())
	assert.Same(t, im, sym.Image())
	start, end, _ = sym.Bounds()
	assert.Equal(t, [2]uint64{0x1001, 0x1003}, [2]uint64{start, end})

	whole, err := Resolve(im)
	require.NoError(t, err)
	assert.Equal(t, KindImage, whole.Kind())
	entry, ok := whole.Entry()
	require.True(t, ok)
	assert.Equal(t, uint64(0x1001), entry)

	b, ok := whole.Read(0x1002, 16)
	require.True(t, ok)
	assert.Equal(t, []byte{0xc3, 0xcc}, b, "reads stop at the end of the segment")
	_, ok = whole.Read(0x2000, 1)
	assert.False(t, ok)

	// Releasing a borrowed image target leaves the image intact.
	whole.Release()
	assert.NotNil(t, im.All)
}

func TestBufferBase(t *testing.T) {
	tgt, err := Resolve([]byte{1, 2, 3, 4}, WithBase(0x10))
	require.NoError(t, err)
	_, end, _ := tgt.Bounds()
	assert.Equal(t, uint64(0x14), end)

	b, ok := tgt.Read(0x11, 2)
	require.True(t, ok)
	assert.Equal(t, []byte{2, 3}, b)
	_, ok = tgt.Read(0x14, 1)
	assert.False(t, ok)
	_, ok = tgt.Read(0x0f, 1)
	assert.False(t, ok)
}

func TestResolveBorrowsTargets(t *testing.T) {
	buf, err := NewBuffer([]byte{1, 2}, 0)
	require.NoError(t, err)
	tgt, err := Resolve(buf)
	require.NoError(t, err)
	tgt.Release()
	assert.False(t, buf.Released(), "caller buffer is not released")

	owned, err := Resolve([]byte{1, 2})
	require.NoError(t, err)
	again, err := Resolve(owned)
	require.NoError(t, err)
	again.Release()
	assert.False(t, owned.Buffer().Released(), "borrowed target is not released")

	owned.Release()
	assert.True(t, owned.Buffer().Released())
	_, err = Resolve(owned)
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestKindsConcurrentInit(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, Kinds(), 4)
		}()
	}
	wg.Wait()
	assert.Equal(t, "symbol", KindSymbol.String())
}
