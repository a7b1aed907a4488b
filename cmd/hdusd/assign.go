package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnagirniak/hdusd/stage"
)

// matlibPrefix marks a material given as a catalog id.
const matlibPrefix = "matlib:"

// materialResolver returns the path of the MaterialX document of a catalog
// material.
type materialResolver func(ctx context.Context, id string) (string, error)

type assignment struct {
	mesh     string
	material string
}

// parseAssignment parses a mesh=material pair. An empty material clears
// the binding of mesh.
func parseAssignment(s string) (assignment, error) {
	mesh, material, ok := strings.Cut(s, "=")
	if !ok {
		return assignment{}, fmt.Errorf("%w: --set %q: expected mesh=material", errInvalidArgs, s)
	}
	mesh = strings.TrimSpace(mesh)
	if mesh == "" {
		return assignment{}, fmt.Errorf("%w: --set %q: empty mesh path", errInvalidArgs, s)
	}
	return assignment{mesh: mesh, material: strings.TrimSpace(material)}, nil
}

// newSlots fills one slot per assignment, starting with the initially
// selected slot.
func newSlots(as []assignment) (*stage.Slots, error) {
	if len(as) > stage.MaxSlots {
		return nil, fmt.Errorf("%w: at most %d assignments, got %d", errInvalidArgs, stage.MaxSlots, len(as))
	}
	slots := stage.NewSlots()
	for n, a := range as {
		i := slots.Selected()[0]
		if n > 0 {
			var ok bool
			if i, ok = slots.Add(); !ok {
				return nil, fmt.Errorf("%w: no free material slot", errInvalidArgs)
			}
		}
		if err := slots.Set(i, a.mesh, a.material); err != nil {
			return nil, err
		}
	}
	return slots, nil
}

func newAssignCmd(resolve materialResolver) *cobra.Command {
	var (
		sets    []string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "assign <stage.yaml>",
		Short: "Assign materials to meshes of a stage",
		Long: `Bind materials to meshes of a stage file and write the resulting stage.

Each --set binds one mesh. The material is a name, the path of a .mtlx
document, or matlib:<material-id> to pull the material from the library
first. An empty material removes the binding. Material prims are created
under <mesh parent>/<name>_mtlx/Materials, replacing the container of the
material previously bound to the mesh.

The input file is never modified; the result goes to --output or stdout.`,
		Example: `  hdusd assign scene.yaml --set /World/Cube=Gold
  hdusd assign scene.yaml --set /World/Cube=/mx/Oak.mtlx -o out.yaml
  hdusd assign scene.yaml --set /World/Cube=matlib:3f2a91c0
  hdusd assign scene.yaml --set /World/Cube=    # remove binding`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sets) == 0 {
				return fmt.Errorf("%w: at least one --set is required", errInvalidArgs)
			}

			var as []assignment
			for _, s := range sets {
				a, err := parseAssignment(s)
				if err != nil {
					return err
				}
				if id, ok := strings.CutPrefix(a.material, matlibPrefix); ok {
					if a.material, err = resolve(cmd.Context(), id); err != nil {
						return err
					}
				}
				as = append(as, a)
			}

			slots, err := newSlots(as)
			if err != nil {
				return err
			}

			in, err := stage.LoadFile(args[0])
			if err != nil {
				return err
			}
			for _, a := range as {
				p, ok := in.Prim(a.mesh)
				if !ok {
					return fmt.Errorf("%w: %s", stage.ErrNotFound, a.mesh)
				}
				if p.Type != stage.TypeMesh {
					return fmt.Errorf("%w: %s is a %s, not a %s", errInvalidArgs, a.mesh, p.Type, stage.TypeMesh)
				}
			}

			out, err := stage.Assign(in, slots)
			if err != nil {
				return err
			}

			if outPath == "" {
				return out.Save(cmd.OutOrStdout())
			}
			return saveStage(out, outPath)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Assignment mesh=material (repeatable)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write the stage to this file instead of stdout")
	return cmd
}

// saveStage writes st to path through a temporary file in the same
// directory, so readers never see a partial stage.
func saveStage(st *stage.Stage, path string) error {
	var buf bytes.Buffer
	if err := st.Save(&buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write stage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write stage: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write stage: %w", err)
	}
	return nil
}
