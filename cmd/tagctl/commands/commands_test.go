package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benvon/smart-tagger/internal/config"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/syncer"
)

func seedProject(t *testing.T, captions map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for id, caption := range captions {
		image := filepath.Join(root, filepath.FromSlash(id))
		if err := os.MkdirAll(filepath.Dir(image), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(image, nil, 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
		if caption == "" {
			continue
		}
		txt := strings.TrimSuffix(image, filepath.Ext(image)) + ".txt"
		if err := os.WriteFile(txt, []byte(caption), 0o644); err != nil {
			t.Fatalf("write caption: %v", err)
		}
	}
	return root
}

func sidecarConfig(project string) ConfigLoader {
	return func() (*config.Config, error) {
		cfg := config.Defaults()
		cfg.ProjectPath = project
		cfg.StorageRateLimit = "1000-S"
		return cfg, nil
	}
}

func readCaption(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		t.Fatalf("read caption: %v", err)
	}
	return string(data)
}

func TestLoadCmd_List(t *testing.T) {
	t.Parallel()

	root := seedProject(t, map[string]string{
		"a.png":     "sky, tree",
		"sub/b.jpg": "sea",
		"c.png":     "",
	})

	cmd := NewLoadCmd(sidecarConfig(root))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--list"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{"a.png: sky, tree", "sub/b.jpg: sea", "c.png: ", "Loaded 3 of 3 assets"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestLoadCmd_ReportsMalformedCaption(t *testing.T) {
	t.Parallel()

	root := seedProject(t, map[string]string{
		"a.png": "sky, sky",
		"b.png": "sea",
	})

	cmd := NewLoadCmd(sidecarConfig(root))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "1 assets failed") {
		t.Fatalf("Expected one failure, got %v", err)
	}
	if !strings.Contains(out.String(), "failed a.png") {
		t.Errorf("Expected a.png failure listed, got:\n%s", out.String())
	}
}

func TestLoadCmd_NoProject(t *testing.T) {
	t.Parallel()

	cmd := NewLoadCmd(func() (*config.Config, error) { return config.Defaults(), nil })
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("Expected error without a project path")
	}
}

func TestLoadCmd_ConfigError(t *testing.T) {
	t.Parallel()

	cmd := NewLoadCmd(func() (*config.Config, error) { return nil, errors.New("bad yaml") })
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--project", "/tmp"})

	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad yaml") {
		t.Errorf("Expected config error, got %v", err)
	}
}

func TestApplyCmd_AddAndRemove(t *testing.T) {
	t.Parallel()

	root := seedProject(t, map[string]string{
		"a.png": "sky, tree",
		"b.png": "sea",
	})

	cmd := NewApplyCmd(sidecarConfig(root))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--add", "outdoor", "--remove", "tree"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("apply failed: %v\n%s", err, out.String())
	}

	if got := readCaption(t, root, "a.txt"); got != "sky, outdoor" {
		t.Errorf("Expected a.txt 'sky, outdoor', got %q", got)
	}
	if got := readCaption(t, root, "b.txt"); got != "sea, outdoor" {
		t.Errorf("Expected b.txt 'sea, outdoor', got %q", got)
	}
	if !strings.Contains(out.String(), "Saved 2 of 2 assets") {
		t.Errorf("Expected save summary, got:\n%s", out.String())
	}
}

func TestApplyCmd_SelectedAssetsOnly(t *testing.T) {
	t.Parallel()

	root := seedProject(t, map[string]string{
		"a.png": "sky",
		"b.png": "sea",
	})

	cmd := NewApplyCmd(sidecarConfig(root))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--add", "blue", "--asset", "b.png"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if got := readCaption(t, root, "a.txt"); got != "sky" {
		t.Errorf("Expected a.txt untouched, got %q", got)
	}
	if got := readCaption(t, root, "b.txt"); got != "sea, blue" {
		t.Errorf("Expected b.txt 'sea, blue', got %q", got)
	}
}

func TestApplyCmd_DryRun(t *testing.T) {
	t.Parallel()

	root := seedProject(t, map[string]string{"a.png": "sky"})

	cmd := NewApplyCmd(sidecarConfig(root))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--add", "blue", "--dry-run"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := readCaption(t, root, "a.txt"); got != "sky" {
		t.Errorf("Expected caption untouched on dry run, got %q", got)
	}
	if !strings.Contains(out.String(), "1 assets modified") {
		t.Errorf("Expected modified count, got:\n%s", out.String())
	}
}

func TestApplyCmd_Rejects(t *testing.T) {
	t.Parallel()

	root := seedProject(t, map[string]string{"a.png": "sky"})

	tests := []struct {
		name string
		args []string
	}{
		{"nothing to apply", nil},
		{"blank tag", []string{"--add", " "}},
		{"unknown asset", []string{"--add", "blue", "--asset", "missing.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewApplyCmd(sidecarConfig(root))
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)
			if err := cmd.ExecuteContext(context.Background()); err == nil {
				t.Errorf("Expected error for %v", tt.args)
			}
		})
	}
}

func TestStatsCmd_RequiresDatabase(t *testing.T) {
	t.Parallel()

	cmd := NewStatsCmd(sidecarConfig(t.TempDir()))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Expected DATABASE_URL error, got %v", err)
	}
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	t.Parallel()

	cmd := NewMigrateCmd(sidecarConfig(t.TempDir()))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Expected DATABASE_URL error, got %v", err)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		res     syncer.BatchResult
		want    []string
		wantErr bool
	}{
		{
			name: "complete",
			res:  syncer.BatchResult{Progress: models.Progress{Completed: 2, Total: 2}},
			want: []string{"Saved 2 of 2 assets\n"},
		},
		{
			name: "cancelled midway",
			res:  syncer.BatchResult{Progress: models.Progress{Completed: 1, Total: 4}},
			want: []string{"Saved 1 of 4 assets", "3 assets not reached"},
		},
		{
			name: "failures",
			res: syncer.BatchResult{
				Progress: models.Progress{Completed: 1, Failed: 1, Total: 2},
				Failures: map[string]error{"a.png": errors.New("disk full")},
			},
			want:    []string{"failed a.png: disk full"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := report(&out, "Saved", tt.res)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("Expected output to contain %q, got %q", w, out.String())
				}
			}
			if got := strings.Contains(out.String(), "not reached"); got == tt.res.Progress.Done() {
				t.Errorf("Expected not reached line only for unfinished runs, got %q", out.String())
			}
		})
	}
}
