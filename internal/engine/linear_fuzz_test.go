package engine

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdis/internal/disasm"
)

// FuzzLinearCoverage checks, for every architecture, that a linear sweep
// produces strictly increasing, non-overlapping instructions, that every
// byte between them is reported by an error event, and that Containing
// finds the instruction covering each of its bytes.
func FuzzLinearCoverage(f *testing.F) {
	f.Add(prologue)
	f.Add([]byte{0x90, 0x90, 0x48})
	f.Add([]byte{0x1f, 0x20, 0x03, 0xd5, 0xc0, 0x03, 0x5f, 0xd6})
	rng := rand.New(rand.NewPCG(1, 2))
	for range 64 {
		b := make([]byte, 1+rng.IntN(96))
		for i := range b {
			b[i] = byte(rng.Uint32())
		}
		f.Add(b)
	}

	f.Fuzz(func(t *testing.T, code []byte) {
		if len(code) == 0 {
			return
		}
		const base = 0x4000
		for _, arch := range disasm.Architectures() {
			d, err := New(Config{Arch: arch}).Collect(buffer(t, code, base), Request{Strategy: StrategyLinear})
			require.NoError(t, err, arch)

			reported := make(map[uint64]bool)
			for _, ev := range d.Errors() {
				reported[ev.VMA] = true
			}

			next := uint64(base)
			for _, in := range d.Insts() {
				require.GreaterOrEqual(t, in.VA, next, "%s: overlap at %#x", arch, in.VA)
				require.Positive(t, in.Size, arch)
				require.LessOrEqual(t, in.End(), uint64(base+len(code)), arch)
				for va := next; va < in.VA; va++ {
					assert.True(t, reported[va], "%s: skipped byte %#x has no event", arch, va)
					_, ok := d.Containing(va)
					assert.False(t, ok, "%s: skipped byte %#x is covered", arch, va)
				}
				for va := in.VA; va < in.End(); va++ {
					got, ok := d.Containing(va)
					require.True(t, ok, "%s: %#x", arch, va)
					assert.Equal(t, in.VA, got.VA, "%s: %#x", arch, va)
				}
				next = in.End()
			}
			for va := next; va < uint64(base+len(code)); va++ {
				assert.True(t, reported[va], "%s: trailing byte %#x has no event", arch, va)
			}
		}
	})
}
