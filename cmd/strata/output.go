// File: cmd/strata/output.go
// Brief: Renders results as YAML, JSON or a text table.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/example/strata/internal/config"
	"github.com/example/strata/internal/stack"
	"sigs.k8s.io/yaml"
)

func writeResult(w io.Writer, format string, r *stack.Result) error {
	if format == config.OutputText {
		if r.Action == stack.ActionGenerate {
			return writeGenerated(w, r)
		}
		return stack.PrintResultTable(w, r)
	}
	return writeStructured(w, format, r)
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case config.OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	}
}

// writeGenerated prints rendered templates as a multi-document stream.
func writeGenerated(w io.Writer, r *stack.Result) error {
	for _, batch := range r.Batches {
		for _, name := range batch {
			o := r.Outcomes[name]
			fmt.Fprintf(w, "---\n# %s (%s)\n", name, o.Status)
			if o.Status != stack.StatusSucceeded {
				fmt.Fprintf(w, "# %s\n", oneLine(o.Error))
				continue
			}
			body, _ := o.Value.(string)
			fmt.Fprint(w, body)
			if !strings.HasSuffix(body, "\n") {
				fmt.Fprintln(w)
			}
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
