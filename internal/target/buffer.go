package target

import "slices"

// Buffer is an owned copy of caller bytes placed at a base address.
type Buffer struct {
	data []byte
	VMA  uint64
}

// NewBuffer copies data into a new buffer loaded at vma.
func NewBuffer(data []byte, vma uint64) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyBuffer
	}
	return &Buffer{data: slices.Clone(data), VMA: vma}, nil
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Release drops the owned bytes. Released buffers read as empty.
func (b *Buffer) Release() { b.data = nil }

func (b *Buffer) Released() bool { return b.data == nil }

// Bounds returns the address range [start, end) covered by the buffer.
func (b *Buffer) Bounds() (start, end uint64) {
	return b.VMA, b.VMA + uint64(len(b.Bytes()))
}

// Slice returns up to n bytes beginning at va.
func (b *Buffer) Slice(va uint64, n int) ([]byte, bool) {
	data := b.Bytes()
	if va < b.VMA || va-b.VMA >= uint64(len(data)) {
		return nil, false
	}
	off := int(va - b.VMA)
	n = min(n, len(data)-off)
	return data[off : off+n], true
}
