// Package config loads opdis configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration. YAML and JSON files are both
// accepted. Command line flags override these values.
type File struct {
	Arch     string `json:"arch,omitempty" yaml:"arch,omitempty" jsonschema:"title=Architecture,description=Decoder architecture such as x86_64 or arm64"`
	Machine  string `json:"machine,omitempty" yaml:"machine,omitempty" jsonschema:"title=Machine,description=ELF machine name used when no architecture is set (EM_X86_64)"`
	Syntax   string `json:"syntax,omitempty" yaml:"syntax,omitempty" jsonschema:"title=Syntax,description=Assembler syntax,enum=att,enum=intel,enum=go"`
	Options  string `json:"options,omitempty" yaml:"options,omitempty" jsonschema:"title=Options,description=Comma separated decoder options"`
	Debug    bool   `json:"debug,omitempty" yaml:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty" jsonschema:"title=Strategy,description=Default disassembly strategy"`
	MaxInsns int    `json:"max_insns,omitempty" yaml:"max_insns,omitempty" jsonschema:"title=Instruction Limit,description=Stop a run after this many instructions (0 is unlimited),minimum=0"`
	Color    *bool  `json:"color,omitempty" yaml:"color,omitempty" jsonschema:"title=Color,description=Colorize listings on a terminal"`
}

// ErrInvalid is returned for files that parse but hold bad values.
var ErrInvalid = errors.New("invalid config")

// Load reads a configuration file.
func Load(filename string) (*File, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if f.MaxInsns < 0 {
		return nil, fmt.Errorf("%w: max_insns %d", ErrInvalid, f.MaxInsns)
	}
	return &f, nil
}

// Args returns the file values as disassembler arguments. Empty values
// are left out.
func (f *File) Args() map[string]any {
	args := map[string]any{}
	if f == nil {
		return args
	}
	if f.Arch != "" {
		args["arch"] = f.Arch
	}
	if f.Machine != "" {
		args["machine"] = f.Machine
	}
	if f.Syntax != "" {
		args["syntax"] = f.Syntax
	}
	if f.Options != "" {
		args["options"] = f.Options
	}
	if f.Debug {
		args["debug"] = true
	}
	if f.MaxInsns > 0 {
		args["max_insns"] = f.MaxInsns
	}
	return args
}

// ColorEnabled reports the color setting, def when unset.
func (f *File) ColorEnabled(def bool) bool {
	if f == nil || f.Color == nil {
		return def
	}
	return *f.Color
}
