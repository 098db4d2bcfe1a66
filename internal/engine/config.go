package engine

import (
	"debug/elf"
	"fmt"
	"strings"

	"opdis/internal/disasm"
	"opdis/internal/elfx"
)

// Config is the mutable disassembler configuration. Every run works on
// its own copy.
type Config struct {
	Arch     string
	Machine  elf.Machine
	Syntax   disasm.Syntax
	Options  string // comma separated decoder options, e.g. "i386,intel"
	Debug    bool
	MaxInsns int // 0 means unlimited
}

// Seed fills the architecture from a binary image. A configured arch
// of the same machine (an x86_64_intel variant, say) is kept.
func (c *Config) Seed(im *elfx.Image) {
	if im == nil {
		return
	}
	if a, ok := disasm.LookupArch(c.Arch); ok && a.Machine == im.Machine {
		c.Machine = im.Machine
		return
	}
	if a, ok := disasm.ArchForMachine(im.Machine); ok {
		c.Arch = a.Name
	}
	c.Machine = im.Machine
}

// ArchName returns the configured architecture or "unknown".
func (c Config) ArchName() string {
	if c.Arch == "" {
		return "unknown"
	}
	return c.Arch
}

// modeOptions switch an x86 arch between operand sizes.
var modeOptions = map[string]string{
	"i8086":  "8086",
	"i386":   "x86",
	"x86-64": "x86_64",
}

// resolve picks the decoder and syntax for a run. Options may adjust
// the x86 mode and supply a syntax when none is configured.
func (c Config) resolve() (*disasm.Arch, disasm.Syntax, []string, error) {
	name := c.Arch
	if name == "" {
		if a, ok := disasm.ArchForMachine(c.Machine); ok {
			name = a.Name
		}
	}
	arch, ok := disasm.LookupArch(name)
	if !ok {
		return nil, "", nil, fmt.Errorf("%w %q", ErrUnknownArch, c.ArchName())
	}

	syn := c.Syntax
	preferred := arch.Syntax
	var ignored []string
	for _, opt := range strings.Split(c.Options, ",") {
		opt = strings.ToLower(strings.TrimSpace(opt))
		switch {
		case opt == "":
		case modeOptions[opt] != "" && arch.Mode != 0:
			arch, _ = disasm.LookupArch(modeOptions[opt])
		case opt == "att" || opt == "intel" || opt == "go":
			if syn == disasm.SyntaxDefault {
				syn = disasm.Syntax(opt)
			}
		default:
			ignored = append(ignored, opt)
		}
	}
	if syn == disasm.SyntaxDefault {
		syn = preferred
	}
	return arch, syn, ignored, nil
}
