package cmd

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"opdis/internal/analysis"
	"opdis/internal/elfx"
	"opdis/internal/opdis"
	"opdis/internal/opdis/styles"
)

// FunctionResult summarizes the run over one function symbol.
type FunctionResult struct {
	Name     string   `json:"name"`
	Addr     string   `json:"addr"`
	Insns    int      `json:"insns"`
	Bytes    int      `json:"bytes"`
	Calls    []string `json:"calls,omitempty"`
	Strings  []string `json:"strings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	addr     uint64
	failures int
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Disassemble every function of an ELF file concurrently",
		Long: `Batch runs the symbol strategy over each function symbol, bounded to the
symbol's extent, using one shared disassembler from several workers.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}
	addDisasmFlags(cmd)
	cmd.Flags().StringP("filter", "f", "", "Only process functions whose name contains this text")
	cmd.Flags().IntP("jobs", "J", runtime.GOMAXPROCS(0), "Number of concurrent workers")
	cmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	cmd.Flags().Bool("strict", false, "Fail when any run records error events")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	in, err := openInput(args[0], false)
	if err != nil {
		return err
	}
	defer in.Close()

	d, logger, err := s.newDisassembler(in)
	if err != nil {
		return err
	}
	defer logger.Close()

	candidates := in.symbols.Entries()
	if filter, _ := cmd.Flags().GetString("filter"); filter != "" {
		candidates = in.symbols.Filter(filter)
	}
	var funcs []analysis.SymbolEntry
	for _, e := range candidates {
		if e.Kind == elfx.SymFunc {
			funcs = append(funcs, e)
		}
	}

	jobs, _ := cmd.Flags().GetInt("jobs")
	results, err := disassembleAll(cmd.Context(), d, in, funcs, jobs)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		writeBatch(cmd.OutOrStdout(), results, s.color)
	}

	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		failed := 0
		for _, r := range results {
			if r.failures > 0 {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d functions", analysis.ErrStrict, failed, len(results))
		}
	}
	return nil
}

// disassembleAll runs every function on the shared disassembler. The
// result slice keeps the order of funcs.
func disassembleAll(ctx context.Context, d *opdis.Disassembler, in *input, funcs []analysis.SymbolEntry, jobs int) ([]FunctionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]FunctionResult, len(funcs))
	detectors := analysis.NewDetectorChain(
		analysis.XrefDetector{Symbols: in.symbols, Calls: true},
		analysis.StringDetector{Image: in.image},
	)
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, e := range funcs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			callArgs := map[string]any{opdis.ArgStrategy: "symbol"}
			if start, end := e.Symbol.Bounds(); end > start {
				callArgs[opdis.ArgLen] = end - start
			}
			out, err := d.Disassemble(e.Symbol, callArgs)
			if err != nil {
				return fmt.Errorf("failed to disassemble %s: %w", e.Demangled, err)
			}
			r := FunctionResult{
				Name:  e.Demangled,
				Addr:  fmt.Sprintf("%#x", e.Addr),
				Insns: out.Len(),
				Bytes: out.Insts().Size(),
				addr:  e.Addr,
			}
			for _, f := range detectors.Detect(out, nil) {
				switch f.Kind {
				case "call":
					r.Calls = append(r.Calls, f.String())
				case "string":
					r.Strings = append(r.Strings, f.Detail)
				}
			}
			for _, ev := range out.Errors() {
				r.Errors = append(r.Errors, fmt.Sprintf("%#x %s", ev.VMA, ev))
			}
			r.failures = len(out.Errors())
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeBatch(w io.Writer, results []FunctionResult, color bool) {
	for _, r := range results {
		addr := fmt.Sprintf("%016x", r.addr)
		name := r.Name
		if color {
			addr = styles.Addr.Render(addr)
			name = styles.Signature(name)
		}
		fmt.Fprintf(w, "%s %6d insns %7d bytes  %s\n", addr, r.Insns, r.Bytes, name)
		for _, e := range r.Errors {
			line := "    ; " + e
			if color {
				line = styles.Errors.Render(line)
			}
			fmt.Fprintln(w, line)
		}
	}
}
