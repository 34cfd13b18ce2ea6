package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"voyager/internal/compiler"
	"voyager/internal/compiler/cairo"
)

func (a *App) newVersionsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Print the supported Cairo and Scarb versions",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := cairo.New()
			if asJSON {
				return a.printJSON(map[string]any{
					"voyager": Version,
					"backend": compiler.Identity(backend),
					"cairo":   compiler.SupportedCairoVersions,
					"scarb":   compiler.SupportedScarbVersions,
				})
			}
			fmt.Fprintf(a.Stdout, "voyager %s (%s)\n", Version, compiler.Identity(backend))
			fmt.Fprintf(a.Stdout, "cairo: %s\n", strings.Join(compiler.SupportedCairoVersions, ", "))
			fmt.Fprintf(a.Stdout, "scarb: %s\n", strings.Join(compiler.SupportedScarbVersions, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print versions as JSON")
	return cmd
}
