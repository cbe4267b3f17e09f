package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yourorg/vulnscan/internal/config"
)

func TestExpandArgsMixesFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.go", "sub/b.py", "logo.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	single := filepath.Join(t.TempDir(), "c.go")
	if err := os.WriteFile(single, []byte("package c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.SetDefaults()

	paths, err := expandArgs([]string{dir, single}, true, cfg.Filter)
	if err != nil {
		t.Fatalf("expandArgs: %v", err)
	}
	// the directory contributes its two eligible files, the png is filtered
	if len(paths) != 3 {
		t.Fatalf("expected 3 paths, got %v", paths)
	}
	found := map[string]bool{}
	for _, p := range paths {
		found[filepath.Base(p)] = true
	}
	for _, want := range []string{"a.go", "b.py", "c.go"} {
		if !found[want] {
			t.Fatalf("missing %s in %v", want, paths)
		}
	}
}

func TestExpandArgsMissingPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	if _, err := expandArgs([]string{filepath.Join(t.TempDir(), "nope.go")}, true, cfg.Filter); err == nil {
		t.Fatalf("expected error for missing path")
	}
}
