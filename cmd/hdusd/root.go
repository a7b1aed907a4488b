package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	matlib "github.com/bnagirniak/hdusd"
	"github.com/bnagirniak/hdusd/internal/config"
	"github.com/bnagirniak/hdusd/internal/log"
)

const appName = "hdusd"

// Version information, set at build time
var (
	version = "dev"
	commit  = "none"
)

// Command group IDs for organizing help output
const (
	GroupLibrary = "library"
	GroupStage   = "stage"
	GroupConfig  = "config"
)

func init() {
	// The matlib subtree has its own PersistentPreRunE; both must run.
	cobra.EnableTraverseRunHooks = true
}

func versionString() string {
	return fmt.Sprintf("%s %s (%s, %s)", appName, version, commit[:min(7, len(commit))], runtime.Version())
}

// newRootCmd builds the hdusd command tree. opts configure every material
// library the commands create.
func newRootCmd(cfg config.Config, opts ...matlib.LibraryOption) *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "MaterialX material tools for USD stages",
		Long: `hdusd browses and caches the remote MaterialX material library,
filters USD prim paths, inspects MaterialX node definitions and
assigns materials to meshes of a stage file.`,
		SilenceUsage:               true,
		SilenceErrors:              true,
		SuggestionsMinimumDistance: 2,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			logger, err := log.GetBaseLogger(cmd)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	log.RegisterLoggingFlags(cmd.PersistentFlags())
	cmd.Version = versionString()
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddGroup(
		&cobra.Group{ID: GroupLibrary, Title: "Material Library Commands:"},
		&cobra.Group{ID: GroupStage, Title: "Stage Commands:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration Commands:"},
	)

	lib := matlib.NewCommand(cfg.Library(appName), opts...)
	lib.GroupID = GroupLibrary
	cmd.AddCommand(lib)

	mx := newMtlxCmd(cfg)
	mx.GroupID = GroupLibrary
	cmd.AddCommand(mx)

	prims := newPrimsCmd(cfg)
	prims.GroupID = GroupStage
	cmd.AddCommand(prims)

	assign := newAssignCmd(pullMaterial(cfg, opts...))
	assign.GroupID = GroupStage
	cmd.AddCommand(assign)

	conf := newConfigCmd(cfg)
	conf.GroupID = GroupConfig
	cmd.AddCommand(conf)

	return cmd
}

// pullMaterial returns a resolver that pulls the first package of a
// catalog material and returns the path of its MaterialX document.
func pullMaterial(cfg config.Config, opts ...matlib.LibraryOption) materialResolver {
	return func(ctx context.Context, id string) (string, error) {
		libOpts := append([]matlib.LibraryOption{matlib.WithLogger(slog.Default())}, opts...)
		lib, err := matlib.NewLibrary(cfg.Library(appName), libOpts...)
		if err != nil {
			return "", fmt.Errorf("failed to initialize material library: %w", err)
		}
		mat, err := lib.Material(ctx, id)
		if err != nil {
			return "", err
		}
		res, err := lib.PullPackage(ctx, mat, "")
		if err != nil {
			return "", err
		}
		slog.Debug("pulled material", "id", mat.ID, "title", mat.Title, "mtlx", res.MaterialXPath)
		return res.MaterialXPath, nil
	}
}

// writeLines writes one line per entry.
func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
