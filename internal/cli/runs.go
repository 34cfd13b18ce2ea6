package cli

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"voyager/internal/runstore"
)

func (a *App) newRunsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded resolution runs, newest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := runstore.NewStore(a.workDir)
			if err != nil {
				return err
			}
			runs, err := st.ListRuns()
			if err != nil {
				return err
			}
			if asJSON {
				if runs == nil {
					runs = []runstore.Run{}
				}
				return a.printJSON(runs)
			}
			return renderRuns(a.Stdout, runs)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON, oldest first")
	cmd.AddCommand(a.newRunsShowCommand())
	return cmd
}

type runDetail struct {
	Run     runstore.Run      `json:"run"`
	Failure *runstore.Failure `json:"failure,omitempty"`
}

func (a *App) newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print one run record and its failure, if any",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return invalidInvocationf("expected exactly one run id")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := runstore.NewStore(a.workDir)
			if err != nil {
				return err
			}
			run, err := st.LoadRun(args[0])
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return invalidInvocationf("unknown run %q", args[0])
				}
				return err
			}
			d := runDetail{Run: run}
			if f, err := st.LoadFailure(run.RunID); err == nil {
				d.Failure = &f
			}
			return a.printJSON(d)
		},
	}
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
