package main

import (
	"github.com/spf13/cobra"

	"github.com/bnagirniak/hdusd/internal/config"
	"github.com/bnagirniak/hdusd/primpath"
	"github.com/bnagirniak/hdusd/stage"
)

func newPrimsCmd(cfg config.Config) *cobra.Command {
	var (
		limit int
		typ   string
	)

	cmd := &cobra.Command{
		Use:   "prims <stage.yaml> [pattern]",
		Short: "List prim paths matching a pattern",
		Long: `List the prim paths of a stage file that match a pattern.

A pattern is an absolute prim path whose segments may use * to match
part of a name and ** to match any number of segments. Without a
pattern every prim is listed. When more paths match than --max, the
first ones are printed followed by "...".`,
		Example: `  hdusd prims scene.yaml                 # All prims
  hdusd prims scene.yaml '/World/*'      # Children of /World
  hdusd prims scene.yaml '/**/Mat*'      # Prims named Mat... at any depth
  hdusd prims scene.yaml --type Mesh     # Meshes only`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "/**"
			if len(args) == 2 {
				pattern = args[1]
			}
			m, err := primpath.Compile(pattern)
			if err != nil {
				return err
			}

			st, err := stage.LoadFile(args[0])
			if err != nil {
				return err
			}

			var paths []string
			if typ != "" {
				for _, p := range st.PrimsOfType(typ) {
					paths = append(paths, p.Path)
				}
			} else {
				paths = st.Paths()
			}

			if !cmd.Flags().Changed("max") {
				limit = cfg.Prims.MaxResults
			}
			return writeLines(cmd.OutOrStdout(), m.Filter(paths, limit))
		},
	}

	cmd.Flags().IntVarP(&limit, "max", "n", config.DefaultMaxResults, "Maximum number of paths (0 = no limit)")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Only list prims of this type")
	return cmd
}
