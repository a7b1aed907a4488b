package matlib

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewCommand(t *testing.T) {
	cfg := Config{
		AppName:    "testapp",
		CatalogURL: "https://example.com",
	}

	cmd := NewCommand(cfg)

	t.Run("root command exists", func(t *testing.T) {
		if cmd == nil {
			t.Fatal("NewCommand returned nil")
		}
		if cmd.Use != "matlib" {
			t.Errorf("Use = %q, want %q", cmd.Use, "matlib")
		}
	})

	t.Run("has global flags", func(t *testing.T) {
		flags := []string{"output", "quiet", "verbose"}
		for _, name := range flags {
			if cmd.PersistentFlags().Lookup(name) == nil {
				t.Errorf("missing global flag: %s", name)
			}
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		subcommands := []string{"list", "categories", "info", "pull", "thumbnails", "path", "verify", "prune"}
		for _, name := range subcommands {
			found := false
			for _, sub := range cmd.Commands() {
				if sub.Name() == name {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("missing subcommand: %s", name)
			}
		}
	})
}

func TestCommandFlags(t *testing.T) {
	cmd := NewCommand(Config{AppName: "testapp", CatalogURL: "https://example.com"})

	tests := []struct {
		command string
		flags   []string
	}{
		{"list", []string{"all", "limit", "offset", "category", "search", "fuzzy"}},
		{"info", []string{"refresh"}},
		{"pull", []string{"refresh"}},
		{"thumbnails", []string{"refresh", "concurrency"}},
		{"prune", []string{"older-than", "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{tt.command})
			if err != nil {
				t.Fatalf("finding %s command: %v", tt.command, err)
			}
			for _, name := range tt.flags {
				if sub.Flags().Lookup(name) == nil {
					t.Errorf("missing --%s flag", name)
				}
			}
		})
	}
}

// runCommand executes the matlib command tree against fc.
func runCommand(t *testing.T, fc *fakeCatalog, cacheDir string, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(envVarName("testapp"), "")

	cmd := NewCommand(
		Config{AppName: "testapp", CatalogURL: fc.url(), CacheDir: cacheDir},
		WithHTTPClient(fc.server.Client()),
		WithBackoff(time.Millisecond, time.Millisecond),
	)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestListCommandOutput(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.addMaterial(t, "aaaaaaaa-1", "Gold", "")
	fc.addMaterial(t, "bbbbbbbb-2", "Oak", "")
	cacheDir := t.TempDir()

	t.Run("table", func(t *testing.T) {
		out, err := runCommand(t, fc, cacheDir, "", "list")
		if err != nil {
			t.Fatalf("list error = %v", err)
		}
		for _, want := range []string{"Gold", "Oak", "aaaaaaaa"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCommand(t, fc, cacheDir, "", "list", "-o", "json", "--search", "oak")
		if err != nil {
			t.Fatalf("list error = %v", err)
		}
		var mats []Material
		if err := json.Unmarshal([]byte(out), &mats); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if len(mats) != 1 || mats[0].Title != "Oak" {
			t.Errorf("materials = %+v, want Oak", mats)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := runCommand(t, fc, cacheDir, "", "list", "-o", "yaml", "--all")
		if err != nil {
			t.Fatalf("list error = %v", err)
		}
		if !strings.Contains(out, "title: Gold") {
			t.Errorf("output is not YAML:\n%s", out)
		}
	})

	t.Run("empty result", func(t *testing.T) {
		out, err := runCommand(t, fc, cacheDir, "", "list", "--search", "marble")
		if err != nil {
			t.Fatalf("list error = %v", err)
		}
		if out != "No materials found\n" {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("unknown output format", func(t *testing.T) {
		_, err := runCommand(t, fc, cacheDir, "", "list", "-o", "xml")
		if !errors.Is(err, ErrInvalidArgument) || !strings.Contains(err.Error(), "xml") {
			t.Errorf("error = %v, want ErrInvalidArgument for xml", err)
		}
	})
}

func TestInfoCommandOutput(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.addCategory("cat-metal", "Metal")
	fc.addMaterial(t, "aaaaaaaa-1", "Gold", "cat-metal")

	out, err := runCommand(t, fc, t.TempDir(), "", "info", "aaaa")
	if err != nil {
		t.Fatalf("info error = %v", err)
	}
	for _, want := range []string{"Title:        Gold", "Category:     Metal", "Packages:", "1K (1.2 MB)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	_, err = runCommand(t, fc, t.TempDir(), "", "info", "zzzz")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPullCommandOutput(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.addMaterial(t, "aaaaaaaa-1", "Gold", "")
	cacheDir := t.TempDir()

	out, err := runCommand(t, fc, cacheDir, "", "pull", "aaaaaaaa-1")
	if err != nil {
		t.Fatalf("pull error = %v", err)
	}
	p := strings.TrimSpace(out)
	if filepath.Base(p) != "Gold.mtlx" {
		t.Errorf("output = %q, want path of Gold.mtlx", out)
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("printed path does not exist: %v", err)
	}

	out, err = runCommand(t, fc, cacheDir, "", "pull", "aaaaaaaa-1", "-o", "json")
	if err != nil {
		t.Fatalf("pull error = %v", err)
	}
	var res PullResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res.MaterialXPath != p {
		t.Errorf("mtlx_path = %q, want %q", res.MaterialXPath, p)
	}
}

func TestPathCommandOutput(t *testing.T) {
	fc := newFakeCatalog(t)
	cacheDir := t.TempDir()

	out, err := runCommand(t, fc, cacheDir, "", "path")
	if err != nil {
		t.Fatalf("path error = %v", err)
	}
	if strings.TrimSpace(out) != cacheDir {
		t.Errorf("output = %q, want %q", out, cacheDir)
	}
}

func TestPruneCommand(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.addMaterial(t, "aaaaaaaa-1", "Gold", "")
	cacheDir := t.TempDir()
	if _, err := runCommand(t, fc, cacheDir, "", "list"); err != nil {
		t.Fatalf("list error = %v", err)
	}
	info := filepath.Join(cacheDir, "M-aaaaaaaa", "info.json")

	t.Run("declined", func(t *testing.T) {
		out, err := runCommand(t, fc, cacheDir, "n\n", "prune")
		if err != nil {
			t.Fatalf("prune error = %v", err)
		}
		if !strings.Contains(out, "Aborted.") {
			t.Errorf("output = %q, want abort", out)
		}
		if _, err := os.Stat(info); err != nil {
			t.Error("declined prune removed files")
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		out, err := runCommand(t, fc, cacheDir, "y\n", "prune")
		if err != nil {
			t.Fatalf("prune error = %v", err)
		}
		if !strings.Contains(out, "Removed 1 files.") {
			t.Errorf("output = %q", out)
		}
		if _, err := os.Stat(info); !os.IsNotExist(err) {
			t.Error("prune should remove cached files")
		}
	})
}

func TestVerifyCommand(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.addMaterial(t, "aaaaaaaa-1", "Gold", "")
	cacheDir := t.TempDir()
	if _, err := runCommand(t, fc, cacheDir, "", "list"); err != nil {
		t.Fatalf("list error = %v", err)
	}

	out, err := runCommand(t, fc, cacheDir, "", "verify")
	if err != nil {
		t.Fatalf("verify error = %v", err)
	}
	if !strings.Contains(out, "1 files checked, 0 corrupt, 0 missing") {
		t.Errorf("output = %q", out)
	}
}

func TestConfirmPrompt(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := confirmPrompt(strings.NewReader(tt.input)); got != tt.want {
				t.Errorf("confirmPrompt(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1572864, "1.50 MB"},
		{1073741824, "1.00 GB"},
		{1610612736, "1.50 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestFormatSizeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2048", "2.00 KB"},
		{"1.2 MB", "1.2 MB"},
		{"", "unknown size"},
	}

	for _, tt := range tests {
		if got := formatSizeString(tt.in); got != tt.want {
			t.Errorf("formatSizeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Millisecond, "0s"},
		{5 * time.Second, "5s"},
		{2*time.Minute + 30*time.Second, "2m 30s"},
		{3 * time.Minute, "3m"},
		{time.Hour + 5*time.Minute, "1h 5m"},
		{2 * time.Hour, "2h"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestRenderProgress(t *testing.T) {
	t.Run("known size", func(t *testing.T) {
		var buf bytes.Buffer
		renderProgress(&buf, 50, 100, time.Now().Add(-time.Second))
		if !strings.Contains(buf.String(), "50%") {
			t.Errorf("output = %q, want percentage", buf.String())
		}
	})

	t.Run("unknown size", func(t *testing.T) {
		var buf bytes.Buffer
		renderProgress(&buf, 2048, -1, time.Now())
		if !strings.Contains(buf.String(), "2.00 KB") || strings.Contains(buf.String(), "%") {
			t.Errorf("output = %q, want byte count only", buf.String())
		}
	})
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	p.update(FetchProgress{URL: "u", BytesTotal: 100})
	p.update(FetchProgress{URL: "u", BytesTotal: 100, BytesCompleted: 100, Done: true})

	out := buf.String()
	if !strings.Contains(out, "100%") {
		t.Errorf("output = %q, want final 100%%", out)
	}
	if !strings.HasSuffix(out, "\x1b[?25h\n") {
		t.Errorf("output = %q, want cursor restored", out)
	}
}

func TestEncodeOutputTableWithoutRows(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeOutput(&buf, OutputTable, map[string]int{"checked": 3}, nil); err != nil {
		t.Fatalf("encodeOutput() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "checked: 3" {
		t.Errorf("output = %q, want YAML fallback", buf.String())
	}
}
