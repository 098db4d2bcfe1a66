package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"opdis/internal/analysis"
	"opdis/internal/elfx"
	"opdis/internal/engine"
	"opdis/internal/opdis"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Disassemble a file without the viewer",
		Long: `Run a single disassembly and print the listing.
The file is loaded as an ELF image unless --raw is given, in which case
its bytes are disassembled as a buffer based at --buffer-vma.`,
		Example: `
# Follow control flow from the ELF entry point
opdis run /bin/true

# Linear sweep of one section in Intel syntax
opdis run --section .text --syntax intel /bin/true

# A raw x86-64 buffer
opdis run --raw --arch x86_64 --buffer-vma 0x401000 code.bin
  `,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	addDisasmFlags(cmd)
	cmd.Flags().StringP("strategy", "s", "", "Strategy ("+joinStrategies()+")")
	cmd.Flags().String("vma", "", "Start address")
	cmd.Flags().String("len", "", "Number of bytes to disassemble")
	cmd.Flags().Bool("raw", false, "Treat the file as a raw buffer")
	cmd.Flags().String("buffer-vma", "0", "Load address of a raw buffer")
	cmd.Flags().String("symbol", "", "Disassemble the named symbol")
	cmd.Flags().String("section", "", "Disassemble the named section")
	cmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	cmd.Flags().Bool("strict", false, "Fail when the run records error events")
	cmd.Flags().BoolP("bytes", "b", false, "Show instruction bytes")
	cmd.Flags().Bool("follow", false, "Let --symbol runs follow branches out of the symbol")
	cmd.MarkFlagsMutuallyExclusive("symbol", "section")
	cmd.MarkFlagsMutuallyExclusive("raw", "symbol")
	cmd.MarkFlagsMutuallyExclusive("raw", "section")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	in, err := openInput(args[0], raw)
	if err != nil {
		return err
	}
	defer in.Close()

	d, logger, err := s.newDisassembler(in)
	if err != nil {
		return err
	}
	defer logger.Close()

	target, strategy, err := selectTarget(cmd, in)
	if err != nil {
		return err
	}
	strategy = s.strategy(strategy)
	if f := cmd.Flags().Lookup("strategy"); f.Changed {
		strategy = f.Value.String()
	}

	callArgs := map[string]any{opdis.ArgStrategy: strategy}
	for flag, key := range map[string]string{"vma": opdis.ArgVMA, "len": opdis.ArgLen, "buffer-vma": opdis.ArgBufferVMA} {
		f := cmd.Flags().Lookup(flag)
		if !f.Changed && (flag != "buffer-vma" || !raw) {
			continue
		}
		n, err := parseAddr(f.Value.String())
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", flag, err)
		}
		callArgs[key] = n
	}

	if sym, ok := target.(*elfx.Symbol); ok && !cmd.Flags().Changed("len") {
		if follow, _ := cmd.Flags().GetBool("follow"); !follow {
			if start, end := sym.Bounds(); end > start {
				callArgs[opdis.ArgLen] = end - start
			}
		}
	}

	slog.Debug("Disassembling", "file", in.path, "strategy", strategy)
	out, err := d.Disassemble(target, callArgs)
	if err != nil {
		return fmt.Errorf("disassembly failed: %w", err)
	}

	arch := in.archName(d.Arch())
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := writeJSON(cmd.OutOrStdout(), newJSONOutput(in, out, arch, strategy)); err != nil {
			return err
		}
	} else {
		showBytes, _ := cmd.Flags().GetBool("bytes")
		writeListing(cmd.OutOrStdout(), in, out, arch, s.color, showBytes)
	}

	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		return analysis.Strict(out)
	}
	return nil
}

// selectTarget picks what to disassemble and the strategy that suits
// it when none is requested.
func selectTarget(cmd *cobra.Command, in *input) (any, string, error) {
	if in.image == nil {
		return in.raw, string(engine.StrategyLinear), nil
	}
	if name, _ := cmd.Flags().GetString("symbol"); name != "" {
		e, ok := in.symbols.Find(name)
		if !ok {
			return nil, "", fmt.Errorf("symbol not found: %s", name)
		}
		return e.Symbol, string(engine.StrategySymbol), nil
	}
	if name, _ := cmd.Flags().GetString("section"); name != "" {
		sec, ok := in.image.SectionByName(name)
		if !ok {
			return nil, "", fmt.Errorf("section not found: %s", name)
		}
		return sec, string(engine.StrategySection), nil
	}
	return in.image, string(engine.StrategyEntry), nil
}
