// Package analysis provides post-run checks over disassembly results
// and demangled symbol tables.
package analysis

import (
	"errors"
	"fmt"
	"slices"

	"opdis/internal/disasm"
	"opdis/internal/engine"
)

// Finding is one observation about a disassembly.
type Finding struct {
	VMA    uint64
	Kind   string // "call", "jump", "string", "error"
	Target uint64
	Detail string
}

func (f Finding) String() string {
	if f.Kind == "error" {
		return fmt.Sprintf("%#x %s", f.VMA, f.Detail)
	}
	if f.Detail != "" {
		return fmt.Sprintf("%#x %s %#x <%s>", f.VMA, f.Kind, f.Target, f.Detail)
	}
	return fmt.Sprintf("%#x %s %#x", f.VMA, f.Kind, f.Target)
}

// Detector inspects a disassembly. It can modify existing findings or
// add new ones.
type Detector interface {
	Detect(d *engine.Disassembly, findings []Finding) []Finding
}

// DetectorChain runs multiple detectors in sequence
type DetectorChain struct {
	detectors []Detector
}

// NewDetectorChain creates a new detector chain
func NewDetectorChain(detectors ...Detector) *DetectorChain {
	return &DetectorChain{
		detectors: detectors,
	}
}

// Detect runs all detectors in sequence
func (dc *DetectorChain) Detect(d *engine.Disassembly, findings []Finding) []Finding {
	result := findings
	for _, detector := range dc.detectors {
		result = detector.Detect(d, result)
	}
	return result
}

// XrefDetector records the resolved targets of calls and jumps.
type XrefDetector struct {
	Symbols *SymbolTable // optional, names the targets
	Calls   bool
	Jumps   bool
}

func (x XrefDetector) Detect(d *engine.Disassembly, findings []Finding) []Finding {
	for _, in := range d.Insts() {
		if !in.HasTarget {
			continue
		}
		var kind string
		switch {
		case x.Calls && in.Flow == disasm.FlowCall:
			kind = "call"
		case x.Jumps && (in.Flow == disasm.FlowJump || in.Flow == disasm.FlowCondJump):
			kind = "jump"
		default:
			continue
		}
		f := Finding{VMA: in.VA, Kind: kind, Target: in.Target}
		if x.Symbols != nil {
			f.Detail, _ = x.Symbols.Lookup(in.Target)
		}
		findings = append(findings, f)
	}
	return findings
}

// ErrorDetector turns error events into findings. An empty Kinds
// matches every event.
type ErrorDetector struct {
	Kinds []engine.EventKind
}

func (e ErrorDetector) Detect(d *engine.Disassembly, findings []Finding) []Finding {
	for _, ev := range d.Errors() {
		if len(e.Kinds) > 0 && !slices.Contains(e.Kinds, ev.Kind) {
			continue
		}
		findings = append(findings, Finding{VMA: ev.VMA, Kind: "error", Detail: ev.String()})
	}
	return findings
}

// ErrStrict is returned by Strict when a run recorded error events.
var ErrStrict = errors.New("disassembly recorded errors")

// Strict fails when the disassembly recorded events of the given
// kinds, or of any kind when none are given.
func Strict(d *engine.Disassembly, kinds ...engine.EventKind) error {
	var errs []error
	for _, ev := range d.Errors() {
		if len(kinds) == 0 || slices.Contains(kinds, ev.Kind) {
			errs = append(errs, ev)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStrict, errors.Join(errs...))
}
