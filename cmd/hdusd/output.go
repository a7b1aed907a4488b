package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// writeOutput writes v as JSON or YAML, or renders a table with rows.
func writeOutput(w io.Writer, format string, v any, rows func(t table.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output as yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	case outputTable:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		rows(t)
		style := table.StyleLight
		style.Options.DrawBorder = false
		t.SetStyle(style)
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q", errInvalidArgs, format)
	}
}
