// File: internal/stack/print.go
// Brief: Human-friendly result, graph and history printing.

package stack

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	succeededColor = color.New(color.FgGreen)
	failedColor    = color.New(color.FgRed, color.Bold)
	skippedColor   = color.New(color.FgYellow)
)

func statusLabel(s Status) string {
	switch s {
	case StatusSucceeded:
		return succeededColor.Sprint(string(s))
	case StatusFailed:
		return failedColor.Sprint(string(s))
	default:
		return skippedColor.Sprint(string(s))
	}
}

// PrintResultTable prints one row per stack ordered by batch.
func PrintResultTable(w io.Writer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "RUN\t%s\n", r.RunID)
	fmt.Fprintf(tw, "ACTION\t%s\n", r.Action)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "BATCH\tSTACK\tSTATUS\tDURATION\tERROR")
	for i, batch := range r.Batches {
		for _, name := range batch {
			o, ok := r.Outcomes[name]
			if !ok {
				continue
			}
			msg := o.Error
			if len(msg) > 160 {
				msg = msg[:160] + "..."
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, name, statusLabel(o.Status), o.Duration.Round(1e6), oneLine(msg))
		}
	}
	return nil
}

// PrintGraph prints the batches of a prepared plan with selection reasons.
func PrintGraph(w io.Writer, sel Selection, g *Graph) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "BATCH\tSTACK\tNEEDS\tSELECTED_BY")
	for i, batch := range g.Order() {
		for _, name := range batch {
			needs := strings.Join(g.Direct(name), ",")
			if needs == "" {
				needs = "-"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, name, needs, strings.Join(sel.Reasons[name], ","))
		}
	}
	return nil
}

// PrintRuns prints stored history records, newest first.
func PrintRuns(w io.Writer, runs []RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN\tACTION\tPATH\tSTATUS\tSTACKS\tFAILED\tDURATION")
	for _, r := range runs {
		path := r.CommandPath
		if path == "" {
			path = "."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Action, path, r.Status, r.Stacks, r.Failed, r.FinishedAt.Sub(r.StartedAt).Round(1e6))
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
