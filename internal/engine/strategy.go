package engine

import (
	"fmt"
	"strings"

	"opdis/internal/target"
)

// Strategy selects how a target is walked.
type Strategy string

const (
	StrategySingle  Strategy = "single"
	StrategyLinear  Strategy = "linear"
	StrategyCflow   Strategy = "cflow"
	StrategySymbol  Strategy = "symbol"
	StrategySection Strategy = "section"
	StrategyEntry   Strategy = "entry"
)

var strategies = []Strategy{
	StrategySingle,
	StrategyLinear,
	StrategyCflow,
	StrategySymbol,
	StrategySection,
	StrategyEntry,
}

// Strategies lists the accepted strategy names.
func Strategies() []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = string(s)
	}
	return out
}

// ParseStrategy maps a name to a Strategy. The bfd- prefixed names are
// accepted as aliases of the image-backed strategies.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "bfd-")
	if name == "" {
		return StrategyLinear, nil
	}
	for _, s := range strategies {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStrategy, name)
}

// check validates that the target kind can serve the strategy.
func (s Strategy) check(t *target.Target) error {
	switch s {
	case StrategySymbol:
		if t.Kind() != target.KindSymbol {
			return fmt.Errorf("%w, got %s", ErrMissingSymbol, t.Kind())
		}
	case StrategySection:
		if t.Kind() != target.KindSection {
			return fmt.Errorf("%w, got %s", ErrMissingSection, t.Kind())
		}
	case StrategyEntry:
		if t.Image() == nil {
			return fmt.Errorf("%w, got %s", ErrMissingImage, t.Kind())
		}
	case StrategySingle, StrategyLinear, StrategyCflow:
	default:
		return fmt.Errorf("%w %q", ErrUnknownStrategy, string(s))
	}
	return nil
}
