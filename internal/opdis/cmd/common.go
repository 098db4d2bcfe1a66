package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"opdis/internal/analysis"
	"opdis/internal/config"
	"opdis/internal/disasm"
	"opdis/internal/elfx"
	"opdis/internal/engine"
	"opdis/internal/logging"
	"opdis/internal/opdis"
	"opdis/internal/ui/colorize"
)

// input is an opened command line target: an ELF image, or the raw
// bytes of a file when --raw is given.
type input struct {
	path    string
	image   *elfx.Image
	raw     []byte
	symbols *analysis.SymbolTable
}

func openInput(file string, raw bool) (*input, error) {
	absPath, err := pathpkg.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", file)
		}
		return nil, fmt.Errorf("cannot access file: %w", err)
	}

	in := &input{path: absPath}
	if raw {
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		in.raw = data
		return in, nil
	}
	img, err := elfx.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	in.image = img
	in.symbols = analysis.NewSymbolTable(img)
	return in, nil
}

func (in *input) Close() error {
	if in.image != nil {
		return in.image.Close()
	}
	return nil
}

// archName is the architecture a listing is highlighted for.
func (in *input) archName(configured string) string {
	if configured != "" && configured != "unknown" {
		return configured
	}
	if in.image != nil {
		if a, ok := disasm.ArchForMachine(in.image.Machine); ok {
			return a.Name
		}
	}
	return configured
}

func (in *input) comment(insn disasm.Inst) string {
	if in.symbols == nil || !insn.HasTarget {
		return ""
	}
	if insn.Flow != disasm.FlowCall && insn.Flow != disasm.FlowJump && insn.Flow != disasm.FlowCondJump {
		return ""
	}
	name, base := in.symbols.Lookup(insn.Target)
	if name == "" {
		return ""
	}
	if off := insn.Target - base; off != 0 {
		return fmt.Sprintf("%s+%#x", name, off)
	}
	return name
}

// stringRefs maps instruction addresses to the C strings they load.
func (in *input) stringRefs(d *engine.Disassembly) map[uint64]string {
	refs := make(map[uint64]string)
	if in.image == nil {
		return refs
	}
	for _, f := range (analysis.StringDetector{Image: in.image}).Detect(d, nil) {
		refs[f.VMA] = f.Detail
	}
	return refs
}

func digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to calculate digest: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// settings is the merged view of the config file and command flags.
type settings struct {
	file  *config.File
	args  map[string]any
	color bool
	quiet bool // no stderr logging, the viewer owns the terminal
}

// loadSettings reads --config (or OPDIS_CONFIG) and overlays the
// disassembler flags registered on cmd.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("OPDIS_CONFIG")
	}
	file := &config.File{}
	if path != "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		file = f
	}

	s := &settings{
		file:  file,
		args:  file.Args(),
		color: file.ColorEnabled(colorize.Enabled() && isTerminal(cmd.OutOrStdout())),
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		s.args[opdis.ArgDebug] = true
	}
	for flag, key := range map[string]string{
		"arch":    opdis.ArgArch,
		"syntax":  opdis.ArgSyntax,
		"options": opdis.ArgOptions,
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			s.args[key] = f.Value.String()
		}
	}
	if f := cmd.Flags().Lookup("max-insns"); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt("max-insns")
		s.args[opdis.ArgMaxInsns] = n
	}
	return s, nil
}

func (s *settings) strategy(def string) string {
	if s.file.Strategy != "" {
		return s.file.Strategy
	}
	return def
}

// newDisassembler builds a disassembler logging through the charm
// logger and labelling branch targets with demangled names.
func (s *settings) newDisassembler(in *input) (*opdis.Disassembler, *logging.LoggerCloser, error) {
	var logger *logging.LoggerCloser
	if s.quiet && os.Getenv("OPDIS_LOG_TO_FILE") != "1" {
		logger = logging.NewLoggerWithWriter(io.Discard)
	} else {
		logger = logging.NewLogger()
	}
	if s.args[opdis.ArgDebug] == true {
		logger.SetLevel(logging.ParseLevel("debug"))
	}
	symbolizer := engine.Symbolizer(analysis.Symbolizer)
	if in != nil && in.symbols != nil {
		// the table is already built for the opened image
		symbolizer = func(*elfx.Image) disasm.SymLookup { return in.symbols.Lookup }
	}
	d, err := opdis.New(s.args,
		engine.WithLogger(logger.Logger),
		engine.WithSymbolizer(symbolizer),
	)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	return d, logger, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// parseAddr accepts decimal, 0x hex and 0o octal numbers.
func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

func joinStrategies() string { return strings.Join(opdis.Strategies(), ", ") }

func addDisasmFlags(cmd *cobra.Command) {
	cmd.Flags().String("arch", "", "Architecture ("+strings.Join(opdis.Architectures(), ", ")+")")
	cmd.Flags().String("syntax", "", "Assembler syntax ("+strings.Join(opdis.Syntaxes(), ", ")+")")
	cmd.Flags().String("options", "", "Comma separated decoder options")
	cmd.Flags().Int("max-insns", 0, "Stop after this many instructions (0 is unlimited)")
}

// writeListing prints one line per instruction in address order,
// followed by the run's error events.
func writeListing(w io.Writer, in *input, d *engine.Disassembly, arch string, color, showBytes bool) {
	width := 0
	if showBytes {
		for _, insn := range d.Insts() {
			width = max(width, 2*len(insn.Bytes))
		}
	}
	strs := in.stringRefs(d)
	for _, insn := range d.Insts() {
		text := insn.Text
		if showBytes {
			text = fmt.Sprintf("%-*x  %s", width, insn.Bytes, insn.Text)
		}
		comment := in.comment(insn)
		if comment == "" {
			comment = strs[insn.VA]
		}
		if color {
			fmt.Fprintln(w, colorize.Line(insn.VA, text, comment, arch))
		} else {
			fmt.Fprintln(w, colorize.PlainLine(insn.VA, text, comment))
		}
	}
	for _, ev := range d.Errors() {
		fmt.Fprintf(w, "; %#x %s\n", ev.VMA, ev)
	}
}

type jsonInsn struct {
	VMA    string `json:"vma"`
	Size   int    `json:"size"`
	Bytes  string `json:"bytes"`
	Text   string `json:"text"`
	Op     string `json:"op"`
	Flow   string `json:"flow"`
	Target string `json:"target,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	String string `json:"string,omitempty"`
}

type jsonEvent struct {
	Kind    string `json:"kind"`
	VMA     string `json:"vma"`
	Message string `json:"message"`
}

// JSONOutput is the --json result of a run.
type JSONOutput struct {
	File     string      `json:"file"`
	Digest   string      `json:"digest,omitempty"`
	Arch     string      `json:"arch"`
	Strategy string      `json:"strategy"`
	Insns    []jsonInsn  `json:"insns"`
	Errors   []jsonEvent `json:"errors"`
}

func newJSONOutput(in *input, d *engine.Disassembly, arch, strategy string) JSONOutput {
	out := JSONOutput{
		File:     in.path,
		Arch:     arch,
		Strategy: strategy,
		Insns:    []jsonInsn{},
		Errors:   []jsonEvent{},
	}
	out.Digest, _ = digest(in.path)
	strs := in.stringRefs(d)
	for _, insn := range d.Insts() {
		j := jsonInsn{
			VMA:    fmt.Sprintf("%#x", insn.VA),
			Size:   insn.Size,
			Bytes:  hex.EncodeToString(insn.Bytes),
			Text:   insn.Text,
			Op:     insn.Op,
			Flow:   insn.Flow.String(),
			Symbol: in.comment(insn),
			String: strs[insn.VA],
		}
		if insn.HasTarget {
			j.Target = fmt.Sprintf("%#x", insn.Target)
		}
		out.Insns = append(out.Insns, j)
	}
	for _, ev := range d.Errors() {
		out.Errors = append(out.Errors, jsonEvent{
			Kind:    string(ev.Kind),
			VMA:     fmt.Sprintf("%#x", ev.VMA),
			Message: ev.Message,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
