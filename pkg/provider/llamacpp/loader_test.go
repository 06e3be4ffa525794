//go:build !llama

package llamacpp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NotCompiled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.gguf")
	_ = os.WriteFile(path, []byte("gguf"), 0o644)

	_, err := NewLoader(Config{ModelsDir: t.TempDir()}).Load(context.Background(), path, nil)
	if !errors.Is(err, ErrNotCompiled) {
		t.Errorf("err = %v, want ErrNotCompiled", err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(Config{ModelsDir: dir})

	if _, err := l.Resolve(context.Background(), "missing.gguf", nil); err == nil {
		t.Error("expected error for a missing .gguf path")
	}
	if _, err := l.Resolve(context.Background(), "no-such-model", nil); err == nil {
		t.Error("expected error for an unknown model id")
	}

	def := DefaultModel()
	_ = os.WriteFile(filepath.Join(dir, def.Filename), []byte("gguf"), 0o644)
	got, err := l.Resolve(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Resolve default: %v", err)
	}
	if got != filepath.Join(dir, def.Filename) {
		t.Errorf("Resolve = %q", got)
	}
}
