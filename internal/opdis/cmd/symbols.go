package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"opdis/internal/analysis"
	"opdis/internal/elfx"
	"opdis/internal/opdis/styles"
)

func newSymbolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols [file]",
		Short: "List the demangled symbol table of an ELF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			in, err := openInput(args[0], false)
			if err != nil {
				return err
			}
			defer in.Close()

			entries := selectSymbols(cmd, in.symbols)
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), symbolsJSON(entries))
			}
			writeSymbols(cmd.OutOrStdout(), entries, s.color)
			return nil
		},
	}
	cmd.Flags().StringP("filter", "f", "", "Only list symbols whose name contains this text")
	cmd.Flags().Bool("functions", false, "Only list functions")
	cmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	return cmd
}

func selectSymbols(cmd *cobra.Command, st *analysis.SymbolTable) []analysis.SymbolEntry {
	entries := st.Entries()
	if filter, _ := cmd.Flags().GetString("filter"); filter != "" {
		entries = st.Filter(filter)
	}
	if funcs, _ := cmd.Flags().GetBool("functions"); funcs {
		var out []analysis.SymbolEntry
		for _, e := range entries {
			if e.Kind == elfx.SymFunc {
				out = append(out, e)
			}
		}
		entries = out
	}
	return entries
}

func kindName(k elfx.SymKind) string {
	switch k {
	case elfx.SymFunc:
		return "func"
	case elfx.SymObject:
		return "data"
	default:
		return "-"
	}
}

func writeSymbols(w io.Writer, entries []analysis.SymbolEntry, color bool) {
	for _, e := range entries {
		addr := fmt.Sprintf("%016x", e.Addr)
		name := e.Demangled
		if color {
			addr = styles.Addr.Render(addr)
			name = styles.Signature(name)
		}
		fmt.Fprintf(w, "%s %8d %-4s %s\n", addr, e.Size, kindName(e.Kind), name)
	}
}

type symbolJSON struct {
	Addr      string `json:"addr"`
	Size      uint64 `json:"size"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Demangled string `json:"demangled,omitempty"`
}

func symbolsJSON(entries []analysis.SymbolEntry) []symbolJSON {
	out := make([]symbolJSON, 0, len(entries))
	for _, e := range entries {
		j := symbolJSON{
			Addr: fmt.Sprintf("%#x", e.Addr),
			Size: e.Size,
			Kind: kindName(e.Kind),
			Name: e.Name,
		}
		if e.Demangled != e.Name {
			j.Demangled = e.Demangled
		}
		out = append(out, j)
	}
	return out
}
