package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"voyager/internal/depgraph"
)

type graphJSON struct {
	Order  []string        `json:"order"`
	Levels [][]string      `json:"levels"`
	Edges  []depgraph.Edge `json:"edges"`
	Hash   string          `json:"hash"`
}

func (a *App) newGraphCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the crate dependency graph in resolution order",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.loadWorkspace()
			if err != nil {
				return err
			}
			g, err := depgraph.BuildContext(cmd.Context(), ws.Crates(), depgraph.WithDevDependencies(a.cfg.Graph.IncludeDev))
			if err != nil {
				return err
			}
			if !asJSON {
				return renderGraph(a.Stdout, g)
			}
			out := graphJSON{Order: g.Order(), Levels: g.Levels(), Edges: g.Edges(), Hash: g.Hash()}
			if out.Edges == nil {
				out.Edges = []depgraph.Edge{}
			}
			enc := json.NewEncoder(a.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the graph as JSON")
	return cmd
}
