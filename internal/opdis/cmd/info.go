package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"opdis/internal/opdis"
	"opdis/internal/opdis/styles"
	"opdis/internal/target"
)

var strategyHelp = map[string]string{
	"single":  "decode one instruction at the start address",
	"linear":  "decode sequentially to the end of the region",
	"cflow":   "follow branches and calls from the start address",
	"symbol":  "control flow from a symbol's address",
	"section": "linear sweep of a whole section",
	"entry":   "control flow from the image entry point",
}

// infoMarkdown describes what the disassembler supports.
func infoMarkdown() string {
	var b strings.Builder
	b.WriteString("# opdis\n\n## Strategies\n\n")
	for _, s := range opdis.Strategies() {
		fmt.Fprintf(&b, "- `%s`: %s\n", s, strategyHelp[s])
	}
	b.WriteString("\nImage backed strategies also accept a `bfd-` prefix.\n")

	b.WriteString("\n## Architectures\n\n")
	for _, a := range opdis.Architectures() {
		fmt.Fprintf(&b, "- `%s`\n", a)
	}

	b.WriteString("\n## Syntaxes\n\n")
	for _, s := range opdis.Syntaxes() {
		fmt.Fprintf(&b, "- `%s`\n", s)
	}

	b.WriteString("\n## Targets\n\n")
	for _, k := range target.Kinds() {
		fmt.Fprintf(&b, "- `%s`\n", k.Name)
	}

	b.WriteString("\n## Error events\n\n")
	for _, k := range opdis.EventKinds() {
		fmt.Fprintf(&b, "- `%s`\n", k)
	}
	return b.String()
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show supported strategies, architectures and syntaxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			md := infoMarkdown()
			if isTerminal(cmd.OutOrStdout()) {
				width, _, err := term.GetSize(os.Stdout.Fd())
				if err != nil || width <= 0 {
					width = 80
				}
				md = styles.Render(md, width-2)
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), md)
			return err
		},
	}
}
