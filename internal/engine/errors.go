package engine

import (
	"errors"
	"fmt"

	"opdis/internal/target"
)

var (
	// ErrConfiguration is the class of errors caused by invalid settings.
	ErrConfiguration   = errors.New("configuration error")
	ErrUnknownStrategy = fmt.Errorf("%w: unknown strategy", ErrConfiguration)
	ErrUnknownSyntax   = fmt.Errorf("%w: unknown syntax", ErrConfiguration)
	ErrUnknownArch     = fmt.Errorf("%w: unknown architecture", ErrConfiguration)

	ErrMissingSymbol  = fmt.Errorf("%w: strategy requires a symbol target", target.ErrTarget)
	ErrMissingSection = fmt.Errorf("%w: strategy requires a section target", target.ErrTarget)
	ErrMissingImage   = fmt.Errorf("%w: strategy requires a binary image target", target.ErrTarget)
)

// EventKind classifies a problem met while decoding.
type EventKind string

const (
	EventBounds       EventKind = "bounds"
	EventInvalidInsn  EventKind = "invalid-instruction"
	EventDecode       EventKind = "decode"
	EventBinaryFormat EventKind = "binary-format"
	EventItemLimit    EventKind = "item-limit"
	EventUnknown      EventKind = "unknown"
)

// ErrorEvent records a per-instruction failure. Runs continue past
// them; they are collected rather than returned.
type ErrorEvent struct {
	Kind    EventKind
	VMA     uint64
	Message string
}

func (e ErrorEvent) String() string {
	return string(e.Kind) + ": " + e.Message
}

func (e ErrorEvent) Error() string { return e.String() }
