package styles

import (
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

var (
	Title    = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).MarginLeft(2)
	Addr     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Selected = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	Comment  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	Errors   = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Coral.Hex()))
	Menu     = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	funcStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	nsStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	keywordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
)

var keywords = []string{"const", "virtual", "static"}

var types = []string{"void", "int", "bool", "char", "float", "double", "unsigned", "long"}

// Signature colors a demangled C++ name: namespaces, the function name,
// and builtin types or qualifiers in the parameter list.
func Signature(sig string) string {
	pre, params, hasParams := strings.Cut(sig, "(")
	if !hasParams {
		return qualified(sig)
	}
	var ret string
	if i := lastTopLevelSpace(pre); i >= 0 {
		ret, pre = pre[:i+1], pre[i+1:]
	}
	return words(ret) + qualified(pre) + words("("+params)
}

// lastTopLevelSpace finds the space separating a return type from the
// name, ignoring spaces inside template arguments.
func lastTopLevelSpace(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '>':
			depth++
		case '<':
			depth--
		case ' ':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func qualified(name string) string {
	parts := strings.Split(name, "::")
	for i, p := range parts {
		if i < len(parts)-1 {
			parts[i] = nsStyle.Render(p)
		} else {
			parts[i] = funcStyle.Render(p)
		}
	}
	return strings.Join(parts, nsStyle.Render("::"))
}

// words styles whole-word keywords and builtin types.
func words(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		w := s[start:end]
		switch {
		case slices.Contains(keywords, w):
			b.WriteString(keywordStyle.Render(w))
		case slices.Contains(types, w):
			b.WriteString(typeStyle.Render(w))
		default:
			b.WriteString(w)
		}
		start = -1
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteByte(c)
	}
	flush(len(s))
	return b.String()
}
