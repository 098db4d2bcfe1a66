package opdis

import (
	"debug/elf"
	"fmt"
	"math"
	"strings"
	"sync"

	"opdis/internal/engine"
)

// Argument keys understood by New and Disassemble.
const (
	ArgDecoder   = "decoder"
	ArgHandler   = "handler"
	ArgResolver  = "resolver"
	ArgSyntax    = "syntax"
	ArgDebug     = "debug"
	ArgOptions   = "options"
	ArgArch      = "arch"
	ArgMachine   = "machine"
	ArgMaxInsns  = "max_insns"
	ArgVMA       = "vma"
	ArgLen       = "len"
	ArgLength    = "length"
	ArgStrategy  = "strategy"
	ArgBufferVMA = "buffer_vma"
)

func toUint64(key string, v any) (uint64, error) {
	switch n := v.(type) {
	case int:
		if n >= 0 {
			return uint64(n), nil
		}
	case int32:
		if n >= 0 {
			return uint64(n), nil
		}
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	case uint:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case float64:
		if n >= 0 && n < math.MaxUint64 && n == math.Trunc(n) {
			return uint64(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %v", engine.ErrConfiguration, key, v)
}

func toString(key string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", fmt.Errorf("%w: %s must be a string, got %T", engine.ErrConfiguration, key, v)
}

func toBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s must be a boolean, got %T", engine.ErrConfiguration, key, v)
}

var machineNames = sync.OnceValue(func() map[string]elf.Machine {
	names := make(map[string]elf.Machine)
	for m := elf.Machine(0); m < 0x200; m++ {
		s := m.String()
		if strings.HasPrefix(s, "EM_") {
			names[s] = m
			names[strings.ToLower(strings.TrimPrefix(s, "EM_"))] = m
		}
	}
	return names
})

func toMachine(v any) (elf.Machine, error) {
	switch m := v.(type) {
	case elf.Machine:
		return m, nil
	case string:
		if mm, ok := machineNames()[m]; ok {
			return mm, nil
		}
		if mm, ok := machineNames()[strings.ToLower(m)]; ok {
			return mm, nil
		}
		return 0, fmt.Errorf("%w: unknown machine %q", engine.ErrConfiguration, m)
	}
	n, err := toUint64(ArgMachine, v)
	if err != nil {
		return 0, err
	}
	return elf.Machine(n), nil
}
