// Package target classifies the things that can be disassembled: raw
// byte buffers, ELF sections, ELF symbols and whole ELF images.
package target

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"opdis/internal/elfx"
)

var (
	ErrTarget            = errors.New("target error")
	ErrEmptyBuffer       = fmt.Errorf("%w: empty buffer", ErrTarget)
	ErrUnsupportedTarget = fmt.Errorf("%w: unsupported target", ErrTarget)
)

type Kind uint8

const (
	KindBuffer Kind = iota
	KindSection
	KindSymbol
	KindImage
)

func (k Kind) String() string {
	for _, d := range kinds() {
		if d.Kind == k {
			return d.Name
		}
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Target is a tagged union; exactly one payload matches Kind.
type Target struct {
	kind    Kind
	buffer  *Buffer
	section *elfx.Section
	symbol  *elfx.Symbol
	image   *elfx.Image
	owned   bool // buffer was copied by Resolve
}

func (t *Target) Kind() Kind { return t.kind }

func (t *Target) Buffer() *Buffer { return t.buffer }

func (t *Target) Section() *elfx.Section { return t.section }

func (t *Target) Symbol() *elfx.Symbol { return t.symbol }

// Image returns the image backing the target, or nil for buffers.
func (t *Target) Image() *elfx.Image {
	switch t.kind {
	case KindSection:
		return t.section.Owner()
	case KindSymbol:
		return t.symbol.Owner()
	case KindImage:
		return t.image
	}
	return nil
}

// Release frees the buffer Resolve copied for the target. Caller
// supplied buffers and image-backed targets are left untouched.
func (t *Target) Release() {
	if t.owned && t.buffer != nil {
		t.buffer.Release()
	}
}

// Bounds returns the default region [start, end) of the target.
func (t *Target) Bounds() (start, end uint64, ok bool) {
	switch t.kind {
	case KindBuffer:
		start, end = t.buffer.Bounds()
		return start, end, true
	case KindSection:
		return t.section.VA, t.section.End(), true
	case KindSymbol:
		start, end = t.symbol.Bounds()
		return start, end, true
	case KindImage:
		if t.image.Text == nil {
			return 0, 0, false
		}
		return t.image.Text.VA, t.image.Text.End(), true
	}
	return 0, 0, false
}

// Entry returns the image entry point for image-backed targets.
func (t *Target) Entry() (uint64, bool) {
	im := t.Image()
	if im == nil {
		return 0, false
	}
	return im.Entry, true
}

// Read returns up to n bytes at va. It reports false when va is not
// mapped by the target.
func (t *Target) Read(va uint64, n int) ([]byte, bool) {
	if t.kind == KindBuffer {
		return t.buffer.Slice(va, n)
	}
	im := t.Image()
	avail := im.Mapped(va)
	if avail == 0 {
		return nil, false
	}
	return im.SliceVA(va, min(uint64(n), avail))
}

type options struct {
	base uint64
}

type Option func(*options)

// WithBase sets the load address of buffer targets.
func WithBase(vma uint64) Option {
	return func(o *options) { o.base = vma }
}

// KindInfo describes one target kind.
type KindInfo struct {
	Kind Kind
	Name string

	resolve func(v any, o *options) (*Target, bool, error)
}

// kinds is built on first use and never modified afterwards.
var kinds = sync.OnceValue(func() []KindInfo {
	return []KindInfo{
		{Kind: KindBuffer, Name: "buffer", resolve: resolveBuffer},
		{Kind: KindSection, Name: "section", resolve: func(v any, _ *options) (*Target, bool, error) {
			s, ok := v.(*elfx.Section)
			if !ok {
				return nil, false, nil
			}
			if s == nil || s.Owner() == nil {
				return nil, true, fmt.Errorf("%w: detached section", ErrUnsupportedTarget)
			}
			return &Target{kind: KindSection, section: s}, true, nil
		}},
		{Kind: KindSymbol, Name: "symbol", resolve: func(v any, _ *options) (*Target, bool, error) {
			s, ok := v.(*elfx.Symbol)
			if !ok {
				return nil, false, nil
			}
			if s == nil || s.Owner() == nil {
				return nil, true, fmt.Errorf("%w: detached symbol", ErrUnsupportedTarget)
			}
			return &Target{kind: KindSymbol, symbol: s}, true, nil
		}},
		{Kind: KindImage, Name: "image", resolve: func(v any, _ *options) (*Target, bool, error) {
			im, ok := v.(*elfx.Image)
			if !ok {
				return nil, false, nil
			}
			if im == nil {
				return nil, true, fmt.Errorf("%w: nil image", ErrUnsupportedTarget)
			}
			return &Target{kind: KindImage, image: im}, true, nil
		}},
	}
})

// Kinds lists the registered target kinds.
func Kinds() []KindInfo {
	return kinds()
}

// Resolve classifies input into a Target. Byte-like inputs are copied
// into an owned buffer. An existing Target or Buffer is borrowed: the
// returned Target does not release it.
func Resolve(input any, opts ...Option) (*Target, error) {
	if t, ok := input.(*Target); ok && t != nil {
		if t.kind == KindBuffer && (t.buffer == nil || t.buffer.Released()) {
			return nil, ErrEmptyBuffer
		}
		borrowed := *t
		borrowed.owned = false
		return &borrowed, nil
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	for _, d := range kinds() {
		t, ok, err := d.resolve(input, &o)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedTarget, input)
}

func resolveBuffer(v any, o *options) (*Target, bool, error) {
	var data []byte
	switch x := v.(type) {
	case *Buffer:
		if x == nil || x.Released() {
			return nil, true, ErrEmptyBuffer
		}
		return &Target{kind: KindBuffer, buffer: x}, true, nil
	case []byte:
		data = x
	case string:
		data = []byte(x)
	case []int:
		data = make([]byte, len(x))
		for i, n := range x {
			if n < 0 || n > 0xff {
				return nil, true, fmt.Errorf("%w: byte value %d at index %d", ErrUnsupportedTarget, n, i)
			}
			data[i] = byte(n)
		}
	case io.Reader:
		b, err := io.ReadAll(x)
		if err != nil {
			return nil, true, fmt.Errorf("read target: %w", err)
		}
		data = b
	default:
		return nil, false, nil
	}

	buf, err := NewBuffer(data, o.base)
	if err != nil {
		return nil, true, err
	}
	return &Target{kind: KindBuffer, buffer: buf, owned: true}, true, nil
}
