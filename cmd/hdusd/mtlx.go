package main

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bnagirniak/hdusd/internal/config"
	"github.com/bnagirniak/hdusd/mtlx"
)

func newMtlxCmd(cfg config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "mtlx",
		Short: "Inspect MaterialX documents",
		Long: `Inspect the node definitions, materials and nodes of a MaterialX document.

Nodes are resolved against the node definitions of the document itself and
of the libraries configured in mtlx.library_dirs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case outputTable, outputJSON, outputYAML:
				return nil
			}
			return fmt.Errorf("%w: unknown output format %q", errInvalidArgs, output)
		},
	}

	cmd.PersistentFlags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")

	cmd.AddCommand(mtlxNodeDefsCmd(&output))
	cmd.AddCommand(mtlxMaterialsCmd(&output))
	cmd.AddCommand(mtlxNodesCmd(cfg, &output))
	return cmd
}

func mtlxNodeDefsCmd(output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "nodedefs <file.mtlx>",
		Short: "List the node types defined by a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := mtlx.LoadFile(args[0])
			if err != nil {
				return err
			}

			reg := mtlx.NewRegistry()
			if err := reg.AddDocument(doc); err != nil {
				slog.Warn("skipped node definitions", "file", args[0], "error", err)
			}
			types := reg.NodeTypes()
			if types == nil {
				types = []*mtlx.NodeType{}
			}

			return writeOutput(cmd.OutOrStdout(), *output, types, func(t table.Writer) {
				t.AppendHeader(table.Row{"NodeDef", "Node", "Label", "Type", "Properties", "Inputs", "Outputs"})
				for _, nt := range types {
					t.AppendRow(table.Row{nt.NodeDef, nt.Node, nt.Label, nt.Type, len(nt.Properties), len(nt.Inputs), len(nt.Outputs)})
				}
			})
		},
	}
}

type materialSummary struct {
	Name          string `json:"name"`
	SurfaceShader string `json:"surfaceshader,omitempty"`
}

func mtlxMaterialsCmd(output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "materials <file.mtlx>",
		Short: "List the materials of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := mtlx.LoadFile(args[0])
			if err != nil {
				return err
			}

			mats := []materialSummary{}
			for _, m := range doc.Materials() {
				s := materialSummary{Name: m.Name()}
				if in := m.Child("surfaceshader"); in != nil {
					s.SurfaceShader = in.Attr("nodename")
				}
				mats = append(mats, s)
			}

			return writeOutput(cmd.OutOrStdout(), *output, mats, func(t table.Writer) {
				t.AppendHeader(table.Row{"Material", "Surface Shader"})
				for _, m := range mats {
					t.AppendRow(table.Row{m.Name, m.SurfaceShader})
				}
			})
		},
	}
}

type nodeSummary struct {
	Name    string            `json:"name"`
	Node    string            `json:"node"`
	NodeDef string            `json:"nodedef"`
	Values  map[string]any    `json:"values,omitempty"`
	Links   map[string]string `json:"links,omitempty"`
}

func mtlxNodesCmd(cfg config.Config, output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes <file.mtlx>",
		Short: "Resolve the nodes of a document to their node definitions",
		Long: `Resolve every node of a document to its node definition and parse its
input values. Nodes without a known node definition are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := mtlx.LoadFile(args[0])
			if err != nil {
				return err
			}

			reg := mtlx.NewRegistry()
			for _, dir := range cfg.MaterialX.LibraryDirs {
				if err := reg.LoadLibrary(dir); err != nil {
					slog.Warn("skipped library files", "dir", dir, "error", err)
				}
			}
			if err := reg.AddDocument(doc); err != nil {
				slog.Warn("skipped node definitions", "file", args[0], "error", err)
			}
			slog.Debug("loaded node definitions", "count", reg.Len())

			nodes := []nodeSummary{}
			for _, el := range doc.Nodes() {
				n, err := reg.Import(el)
				if err != nil {
					slog.Warn("skipped node", "node", el.Name(), "error", err)
					continue
				}
				nodes = append(nodes, nodeSummary{
					Name:    n.Label,
					Node:    n.Type.Node,
					NodeDef: n.Type.NodeDef,
					Values:  n.Values,
					Links:   n.Links,
				})
			}

			return writeOutput(cmd.OutOrStdout(), *output, nodes, func(t table.Writer) {
				t.AppendHeader(table.Row{"Name", "Node", "NodeDef", "Values", "Links"})
				for _, n := range nodes {
					t.AppendRow(table.Row{n.Name, n.Node, n.NodeDef, len(n.Values), formatLinks(n.Links)})
				}
			})
		},
	}
}

func formatLinks(links map[string]string) string {
	parts := make([]string, 0, len(links))
	for in, upstream := range links {
		parts = append(parts, in+"<-"+upstream)
	}
	slices.Sort(parts)
	return strings.Join(parts, ", ")
}
