package main

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"payment terms", "-org", "acme"},
			expected: []string{"-org", "acme", "payment terms"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-org", "acme", "payment terms"},
			expected: []string{"-org", "acme", "payment terms"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"payment terms"},
			expected: []string{"payment terms"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	if got := buildQuery([]string{"付款", "條件"}); got != "付款 條件" {
		t.Errorf("got %q", got)
	}
	if got := buildQuery([]string{"  "}); got != "" {
		t.Errorf("blank query: got %q", got)
	}
}

func TestSplitIDs(t *testing.T) {
	if got := splitIDs("", false); got != nil {
		t.Errorf("unset flag: got %v, want nil", got)
	}
	if got := splitIDs("", true); got == nil || len(got) != 0 {
		t.Errorf("empty flag: got %v, want empty non-nil", got)
	}
	if got := splitIDs("d1, d2,,", true); !reflect.DeepEqual(got, []string{"d1", "d2"}) {
		t.Errorf("got %v", got)
	}
}

func TestFlagWasSet(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.String("docs", "", "")
	fs.Float64("min-score", 0, "")
	if err := fs.Parse([]string{"-docs="}); err != nil {
		t.Fatal(err)
	}
	if !flagWasSet(fs, "docs") {
		t.Error("docs should be set")
	}
	if flagWasSet(fs, "min-score") {
		t.Error("min-score should not be set")
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("storage:\n  database_path: \":memory:\"\nretrieval:\n  top_k: 7\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, loaded, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != path {
		t.Errorf("loaded %s, want %s", loaded, path)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("TopK = %d", cfg.Retrieval.TopK)
	}
	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}
