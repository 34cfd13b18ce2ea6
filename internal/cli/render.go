package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"voyager/internal/contract"
	"voyager/internal/depgraph"
	"voyager/internal/diag"
	"voyager/internal/resolver"
	"voyager/internal/runstore"
	"voyager/internal/workspace"
)

func stateStyle(s contract.CrateState) *pterm.Style {
	switch s {
	case contract.StateReady:
		return pterm.NewStyle(pterm.FgLightGreen)
	case contract.StateFailed:
		return pterm.NewStyle(pterm.FgRed)
	case contract.StateBlocked:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgDefault)
	}
}

// renderReport prints crate states, artifacts and diagnostics.
func renderReport(w io.Writer, rep *resolver.Report) error {
	counts := make(map[string]int)
	for _, a := range rep.Artifacts {
		counts[a.Crate]++
	}
	causes := make(map[string]string)
	for _, b := range rep.Blocked {
		causes[b.Crate] = b.Cause
	}

	rows := pterm.TableData{{"CRATE", "STATE", "ARTIFACTS", "CAUSE"}}
	for _, name := range rep.Order {
		st := rep.States[name]
		rows = append(rows, []string{
			name,
			stateStyle(st).Sprint(string(st)),
			strconv.Itoa(counts[name]),
			causes[name],
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(w).Render(); err != nil {
		return err
	}

	if len(rep.Artifacts) > 0 {
		fmt.Fprintln(w)
		arts := pterm.TableData{{"CONTRACT", "CRATE", "SOURCE", "HASH"}}
		for _, a := range rep.Artifacts {
			arts = append(arts, []string{a.Path, a.Crate, a.SourceFile, shortHash(a.Hash)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(arts).WithWriter(w).Render(); err != nil {
			return err
		}
	}

	if len(rep.Diagnostics) > 0 {
		fmt.Fprintln(w)
		renderDiagnostics(w, rep.Diagnostics)
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d ready, %d failed or blocked, %d artifacts, %d errors, %d warnings (revision %d)",
		len(rep.Ready()), len(rep.Blocked), len(rep.Artifacts), rep.Errors, rep.Warnings, rep.Revision)
	if len(rep.Blocked) > 0 {
		pterm.Error.WithWriter(w).Println(summary)
	} else {
		pterm.Success.WithWriter(w).Println(summary)
	}
	return nil
}

func renderDiagnostics(w io.Writer, ds []diag.Diagnostic) {
	for _, d := range ds {
		switch d.Severity {
		case diag.SeverityError:
			pterm.Error.WithWriter(w).Println(d.String())
		case diag.SeverityWarning:
			pterm.Warning.WithWriter(w).Println(d.String())
		default:
			pterm.Info.WithWriter(w).Println(d.String())
		}
	}
}

func renderGraph(w io.Writer, g *depgraph.Graph) error {
	rows := pterm.TableData{{"#", "CRATE", "DEPTH", "DEPENDS ON"}}
	for i, name := range g.Order() {
		depth, _ := g.Depth(name)
		var deps []string
		for _, d := range g.Dependencies(name) {
			kind, _ := g.EdgeKind(name, d)
			if kind != "" && kind != workspace.EdgeNormal {
				d += " (" + string(kind) + ")"
			}
			deps = append(deps, d)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), name, strconv.Itoa(depth), strings.Join(deps, ", ")})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(w).Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\ngraph hash %s\n", g.Hash())
	return nil
}

func renderRuns(w io.Writer, runs []runstore.Run) error {
	if len(runs) == 0 {
		pterm.Info.WithWriter(w).Println("no runs recorded")
		return nil
	}
	rows := pterm.TableData{{"RUN", "STARTED", "MODE", "STATUS", "READY", "BLOCKED", "ARTIFACTS"}}
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		ready, blocked, arts := "-", "-", "-"
		if r.Summary != nil {
			ready = strconv.Itoa(len(r.Summary.Ready))
			blocked = strconv.Itoa(len(r.Summary.Failed) + len(r.Summary.Blocked))
			arts = strconv.Itoa(r.Summary.Artifacts)
		}
		rows = append(rows, []string{
			r.RunID,
			r.StartTime.Format("2006-01-02 15:04:05"),
			string(r.Mode),
			string(r.Status),
			ready, blocked, arts,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(w).Render()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
