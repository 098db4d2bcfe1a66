// Package colorize highlights disassembly listings for the terminal.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether color output is allowed. OPDIS_NO_COLOR or
// NO_COLOR disable it.
func Enabled() bool {
	return os.Getenv("OPDIS_NO_COLOR") == "" && os.Getenv("NO_COLOR") == ""
}

// lexerFor picks an assembly lexer for an architecture name, with
// fallbacks when a lexer is not compiled in.
func lexerFor(arch string) chroma.Lexer {
	candidates := []string{"gas", "nasm"}
	switch {
	case strings.HasPrefix(arch, "arm"):
		candidates = []string{"armasm", "gas"}
	case strings.HasSuffix(arch, "_intel"):
		candidates = []string{"nasm", "gas"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return chroma.Coalesce(lexer)
		}
	}
	return nil
}

func style() *chroma.Style {
	for _, name := range []string{DisasmDark.Name, "dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func formatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of assembly for arch. The input is
// returned unchanged when color is disabled or no lexer exists.
func Assembly(code, arch string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := lexerFor(arch)
	if lexer == nil {
		return code, nil
	}
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := formatter().Format(&buf, style(), it); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Line renders one listing line: address in gray, instruction text
// highlighted, and an optional comment.
func Line(addr uint64, text, comment, arch string) string {
	if !Enabled() {
		return PlainLine(addr, text, comment)
	}
	colored, err := Assembly(text, arch)
	if err != nil {
		colored = text
	}
	colored = strings.ReplaceAll(colored, "\n", "")
	line := fmt.Sprintf("\033[38;2;79;79;79m%8x\033[0m  %s", addr, colored)
	if comment != "" {
		pad := max(1, 40-len(text))
		line += strings.Repeat(" ", pad) + fmt.Sprintf("\033[38;2;106;153;85m; %s\033[0m", comment)
	}
	return line
}

// PlainLine is Line without escape sequences.
func PlainLine(addr uint64, text, comment string) string {
	line := fmt.Sprintf("%8x  %s", addr, text)
	if comment != "" {
		line += strings.Repeat(" ", max(1, 40-len(text))) + "; " + comment
	}
	return line
}

// VisibleLen counts the characters of s outside ANSI escape sequences.
func VisibleLen(s string) int {
	visible := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			visible++
		}
	}
	return visible
}
