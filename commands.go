package matlib

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// NewCommand creates a Cobra command tree for the material library.
// The returned command should be added to a parent CLI's root command.
//
// Commands provided:
//   - matlib list [--all] [--limit N] [--offset N] [--category ID] [--search TEXT] [--fuzzy]
//   - matlib categories
//   - matlib info <material-id>
//   - matlib pull <material-id> [package-id] [--refresh]
//   - matlib thumbnails <material-id> [--concurrency N] [--refresh]
//   - matlib path
//   - matlib verify
//   - matlib prune [--older-than DURATION] [--yes]
//
// Global flags: --output, --quiet, --verbose
//
// Unless opts carry a logger, the library logs to slog.Default(); --verbose
// replaces it with a debug-level logger on stderr.
func NewCommand(cfg Config, opts ...LibraryOption) *cobra.Command {
	var (
		output  string
		quiet   bool
		verbose bool
	)

	// Library will be created in PersistentPreRunE
	var lib Library

	cmd := &cobra.Command{
		Use:   "matlib",
		Short: "Browse and download MaterialX materials",
		Long:  "List, search and download materials from the remote MaterialX material library and manage the local cache.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip library creation for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			switch output {
			case OutputTable, OutputJSON, OutputYAML:
			default:
				return fmt.Errorf("%w: unknown output format %q", ErrInvalidArgument, output)
			}

			var logger Logger = slog.Default()
			if verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
			libOpts := append([]LibraryOption{WithLogger(logger)}, opts...)

			var err error
			lib, err = NewLibrary(cfg, libOpts...)
			if err != nil {
				return fmt.Errorf("failed to initialize material library: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&output, "output", "o", OutputTable, "Output format (table, json, yaml)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Add subcommands
	cmd.AddCommand(listCmd(&lib, &output))
	cmd.AddCommand(categoriesCmd(&lib, &output))
	cmd.AddCommand(infoCmd(&lib, &output))
	cmd.AddCommand(pullCmd(&lib, &output, &quiet, &verbose))
	cmd.AddCommand(thumbnailsCmd(&lib, &output, &quiet))
	cmd.AddCommand(pathCmd(&lib))
	cmd.AddCommand(verifyCmd(&lib, &output, &quiet))
	cmd.AddCommand(pruneCmd(&lib, &quiet))

	return cmd
}

func listCmd(lib *Library, output *string) *cobra.Command {
	var (
		all      bool
		limit    int
		offset   int
		category string
		search   string
		fuzzy    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List materials",
		Long:  "List one page of catalog materials, or the whole catalog with --all, --category or --search.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				mats []Material
				err  error
			)
			switch {
			case category != "" || search != "":
				mats, err = (*lib).Search(ctx, Query{Category: category, Text: search, Fuzzy: fuzzy})
			case all:
				mats, err = (*lib).AllMaterials(ctx)
			default:
				mats, err = (*lib).ListMaterials(ctx, limit, offset)
			}
			if err != nil {
				return err
			}
			return outputMaterials(cmd.OutOrStdout(), mats, *output)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List the whole catalog")
	cmd.Flags().IntVar(&limit, "limit", 10, "Materials per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	cmd.Flags().StringVar(&category, "category", "", "Only materials of this category id")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only materials whose title contains this text")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "Rank titles by fuzzy match instead of substring")
	return cmd
}

func categoriesCmd(lib *Library, output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List material categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			categories, err := (*lib).Categories(cmd.Context())
			if err != nil {
				return err
			}
			return encodeOutput(cmd.OutOrStdout(), *output, categories, func(t table.Writer) {
				t.AppendHeader(table.Row{"ID", "Title"})
				for _, c := range categories {
					t.AppendRow(table.Row{c.ID, c.Title})
				}
			})
		},
	}
}

// materialInfo is the output of the info command.
type materialInfo struct {
	Material Material  `json:"material"`
	Category *Category `json:"category,omitempty"`
	Packages []Package `json:"package_info"`
}

func infoCmd(lib *Library, output *string) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "info <material-id>",
		Short: "Show material information",
		Long:  "Show a material with its category and packages. The id may be a unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var opts []FetchOption
			if refresh {
				opts = append(opts, WithRefresh())
			}

			mat, err := (*lib).Material(ctx, args[0], opts...)
			if err != nil {
				return err
			}

			info := materialInfo{Material: mat, Category: mat.Category}
			for _, id := range mat.PackageIDs {
				pkg, err := (*lib).Package(ctx, mat, id, opts...)
				if err != nil {
					return err
				}
				info.Packages = append(info.Packages, pkg)
			}

			if *output != OutputTable {
				return encodeOutput(cmd.OutOrStdout(), *output, info, nil)
			}
			outputMaterialDetail(cmd.OutOrStdout(), info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cache")
	return cmd
}

func pullCmd(lib *Library, output *string, quiet, verbose *bool) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "pull <material-id> [package-id]",
		Short: "Download a material package",
		Long:  "Download a material's MaterialX package, extract it and print the path of its .mtlx document. Without a package id the first package is used.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var opts []FetchOption
			if refresh {
				opts = append(opts, WithRefresh())
			}

			mat, err := (*lib).Material(ctx, args[0], opts...)
			if err != nil {
				return err
			}
			var pkgID string
			if len(args) == 2 {
				pkgID = args[1]
			}

			// Progress bar only makes sense on a terminal
			if !*quiet && *output == OutputTable && isTerminal(cmd.OutOrStdout()) {
				opts = append(opts, WithProgress(newProgressPrinter(cmd.OutOrStdout()).update))
			}

			res, err := (*lib).PullPackage(ctx, mat, pkgID, opts...)
			if err != nil {
				return err
			}

			if *output != OutputTable {
				return encodeOutput(cmd.OutOrStdout(), *output, res, nil)
			}
			if *verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "Package: %s (%s)\n", res.Package.Label, res.ZipPath)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.MaterialXPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&refresh, "refresh", "f", false, "Download again even if cached")
	return cmd
}

func thumbnailsCmd(lib *Library, output *string, quiet *bool) *cobra.Command {
	var (
		refresh     bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "thumbnails <material-id>",
		Short: "Download render thumbnails",
		Long:  "Download the thumbnails of all renders of a material.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var opts []FetchOption
			if cmd.Flags().Changed("concurrency") {
				opts = append(opts, WithConcurrency(concurrency))
			}
			if refresh {
				opts = append(opts, WithRefresh())
			}

			mat, err := (*lib).Material(ctx, args[0], opts...)
			if err != nil {
				return err
			}
			renders, err := (*lib).FetchThumbnails(ctx, mat, opts...)
			if err != nil {
				return err
			}

			if len(renders) == 0 && !*quiet && *output == OutputTable {
				fmt.Fprintln(cmd.OutOrStdout(), "No renders")
				return nil
			}
			return encodeOutput(cmd.OutOrStdout(), *output, renders, func(t table.Writer) {
				t.AppendHeader(table.Row{"Render", "Author", "Thumbnail"})
				for _, r := range renders {
					t.AppendRow(table.Row{id8(r.ID), r.Author, r.ThumbnailPath})
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&refresh, "refresh", "f", false, "Download again even if cached")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", DefaultConcurrency, "Parallel downloads")
	return cmd
}

func pathCmd(lib *Library) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), (*lib).Dir())
			return nil
		},
	}
}

func verifyCmd(lib *Library, output *string, quiet *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify cached files",
		Long:  "Re-compute the digest of every cached file and remove the ones that no longer match.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := (*lib).Verify(cmd.Context())
			if err != nil {
				return err
			}

			if *output != OutputTable {
				return encodeOutput(cmd.OutOrStdout(), *output, res, nil)
			}
			for _, p := range res.Corrupt {
				fmt.Fprintf(cmd.OutOrStdout(), "removed corrupt file %s\n", p)
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%d files checked, %d corrupt, %d missing\n",
					res.Checked, len(res.Corrupt), len(res.Missing))
			}
			return nil
		},
	}
}

func pruneCmd(lib *Library, quiet *bool) *cobra.Command {
	var (
		olderThan time.Duration
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Clear the cache",
		Long:  "Remove cached files not modified within --older-than, plus leftovers of interrupted downloads. Without --older-than the whole cache is cleared.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Confirmation prompt
			if !yes {
				if olderThan > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Remove cached files older than %s? [y/N]: ", formatDuration(olderThan))
				} else {
					fmt.Fprint(cmd.OutOrStdout(), "Clear the material cache? [y/N]: ")
				}
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			n, err := (*lib).Prune(ctx, olderThan)
			if err != nil {
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files.\n", n)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove files older than this (e.g. 720h)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

// confirmPrompt reads from stdin and returns true only if the user types 'y' or 'Y'.
// Returns false for empty input or any other response (default is no).
func confirmPrompt(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		response := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return response == "y" || response == "yes"
	}
	return false
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Output helpers

// encodeOutput writes v as JSON or YAML, or renders a table with rows.
// A nil rows falls back to YAML for the table format.
func encodeOutput(w io.Writer, format string, v any, rows func(t table.Writer)) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output as yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	case OutputTable:
		if rows == nil {
			return encodeOutput(w, OutputYAML, v, nil)
		}
		t := table.NewWriter()
		t.SetOutputMirror(w)
		rows(t)
		style := table.StyleLight
		style.Options.DrawBorder = false
		t.SetStyle(style)
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q", ErrInvalidArgument, format)
	}
}

func outputMaterials(w io.Writer, mats []Material, format string) error {
	if format == OutputTable && len(mats) == 0 {
		fmt.Fprintln(w, "No materials found")
		return nil
	}
	if mats == nil {
		mats = []Material{}
	}

	return encodeOutput(w, format, mats, func(t table.Writer) {
		t.AppendHeader(table.Row{"ID", "Title", "Author", "Packages", "Renders"})
		for _, m := range mats {
			t.AppendRow(table.Row{id8(m.ID), m.Title, m.Author, len(m.PackageIDs), len(m.RenderIDs)})
		}
	})
}

func outputMaterialDetail(w io.Writer, info materialInfo) {
	m := info.Material
	fmt.Fprintf(w, "ID:           %s\n", m.ID)
	fmt.Fprintf(w, "Title:        %s\n", m.Title)
	fmt.Fprintf(w, "Author:       %s\n", m.Author)
	if info.Category != nil {
		fmt.Fprintf(w, "Category:     %s\n", info.Category.Title)
	}
	if m.Status != "" {
		fmt.Fprintf(w, "Status:       %s\n", m.Status)
	}
	fmt.Fprintf(w, "Renders:      %d\n", len(m.RenderIDs))
	if m.Description != "" {
		fmt.Fprintf(w, "\n%s\n", m.Description)
	}

	if len(info.Packages) > 0 {
		fmt.Fprintln(w, "\nPackages:")
		for _, p := range info.Packages {
			state := ""
			if p.HasFile() {
				state = ", downloaded"
			}
			fmt.Fprintf(w, "  %s %s (%s%s)\n", id8(p.ID), p.Label, formatSizeString(string(p.Size)), state)
		}
	}
}

// formatSizeString formats a catalog size, which may be a byte count or
// already human readable.
func formatSizeString(s string) string {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return formatSize(n)
	}
	if s == "" {
		return "unknown size"
	}
	return s
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// progressPrinter draws a download progress bar, redrawing at most every
// progressInterval.
type progressPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	startTime  time.Time
	lastRender time.Time
	started    bool
}

const progressInterval = 100 * time.Millisecond

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) update(fp FetchProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.started = true
		p.startTime = time.Now()
		// Hide cursor
		fmt.Fprint(p.w, "\x1b[?25l")
	}

	if fp.Done {
		renderProgress(p.w, fp.BytesCompleted, fp.BytesTotal, p.startTime)
		fmt.Fprint(p.w, "\x1b[?25h\n") // Show cursor and new line
		p.started = false
		return
	}

	if time.Since(p.lastRender) < progressInterval {
		return
	}
	p.lastRender = time.Now()
	renderProgress(p.w, fp.BytesCompleted, fp.BytesTotal, p.startTime)
}

// renderProgress renders the progress bar to the writer.
// Format: Downloading [============>                 ] 45% (5.2 MB/s, elapsed: 30s, remaining: 2m 15s)
// A negative total means the size is unknown; only bytes and speed are shown.
func renderProgress(w io.Writer, current, total int64, startTime time.Time) {
	elapsed := time.Since(startTime)

	var speed float64
	if elapsed.Seconds() > 0 && current > 0 {
		speed = float64(current) / elapsed.Seconds()
	}

	if total <= 0 {
		fmt.Fprintf(w, "\r\x1b[KDownloading %s (%s, elapsed: %s)",
			formatSize(current), formatSpeed(speed), formatDuration(elapsed))
		return
	}

	pct := float64(current) / float64(total) * 100

	var remaining time.Duration
	if speed > 0 && current < total {
		remaining = time.Duration(float64(total-current)/speed) * time.Second
	}

	// Build progress bar
	const barWidth = 30
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}

	var bar string
	if filled >= barWidth {
		bar = strings.Repeat("=", barWidth)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled) + ">" + strings.Repeat(" ", barWidth-filled-1)
	} else {
		bar = ">" + strings.Repeat(" ", barWidth-1)
	}

	// \r overwrites the line, \x1b[K clears to end of line
	fmt.Fprintf(w, "\r\x1b[KDownloading [%s] %.0f%% (%s, elapsed: %s, remaining: %s)",
		bar, pct, formatSpeed(speed), formatDuration(elapsed), formatDuration(remaining))
}

// formatSpeed formats bytes per second as KB/s or MB/s.
func formatSpeed(bytesPerSec float64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	if bytesPerSec >= MB {
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/MB)
	}
	if bytesPerSec >= KB {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/KB)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

// formatDuration formats a duration as human-readable text (e.g., "5s", "2m 30s", "1h 5m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}
