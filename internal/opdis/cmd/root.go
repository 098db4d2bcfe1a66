package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"opdis/internal/opdis"
	"opdis/internal/opdis/log"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opdis [file]",
		Short: "Terminal disassembler with pluggable strategies",
		Long: `Opdis disassembles ELF images and raw buffers with linear, control flow,
symbol, section and entry point strategies. On a terminal it opens an
interactive viewer; when piped it prints the entry point listing.`,
		Example: `
# Open the viewer on a binary
opdis /bin/true

# Print the listing without the viewer
opdis -n /bin/true

# Disassemble one function
opdis run --symbol main /path/to/binary
  `,
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: setup,
		RunE:              runRoot,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the listing without the viewer")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")
	addDisasmFlags(rootCmd)

	rootCmd.AddCommand(
		newRunCmd(),
		newSymbolsCmd(),
		newBatchCmd(),
		newInfoCmd(),
		newSchemaCmd(),
	)
	return rootCmd
}

func setup(cmd *cobra.Command, args []string) error {
	if _, err := ResolveCwd(cmd); err != nil {
		return err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	log.Setup("", debug)
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	if cpuprofile, _ := cmd.Flags().GetString("cpuprofile"); cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}
	if memprofile, _ := cmd.Flags().GetString("memprofile"); memprofile != "" {
		defer func() {
			f, err := os.Create(memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
			}
		}()
	}

	absPath, err := pathpkg.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	noTUI, _ := cmd.Flags().GetBool("no-tui")
	if noTUI || !isTerminal(cmd.OutOrStdout()) {
		return runPlain(cmd, absPath, s)
	}

	s.quiet = true
	program := tea.NewProgram(
		newModel(absPath, s),
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
	)
	if _, err := program.Run(); err != nil {
		slog.Error("TUI run error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runPlain prints the file summary and the entry point listing.
func runPlain(cmd *cobra.Command, path string, s *settings) error {
	in, err := openInput(path, false)
	if err != nil {
		return err
	}
	defer in.Close()

	d, logger, err := s.newDisassembler(in)
	if err != nil {
		return err
	}
	defer logger.Close()

	out, err := d.Disassemble(in.image, map[string]any{opdis.ArgStrategy: s.strategy("entry")})
	if err != nil {
		return fmt.Errorf("disassembly failed: %w", err)
	}

	sum, err := digest(path)
	if err != nil {
		return err
	}
	arch := in.archName(d.Arch())
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# opdis")
	fmt.Fprintln(w)
	for _, line := range headerLines(path, sum, in, arch) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	writeListing(w, in, out, arch, s.color, false)
	return nil
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}

func Execute() {
	rootCmd := newRootCmd()

	// fang renders help and errors as styled markdown, which garbles
	// piped output
	plain := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			plain = true
			break
		}
	}
	if plain {
		os.Setenv("OPDIS_NO_COLOR", "1")
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
