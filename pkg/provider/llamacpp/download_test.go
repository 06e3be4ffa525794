package llamacpp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhuss/plauder/pkg/provider"
)

func TestListModels(t *testing.T) {
	models := ListModels()
	if len(models) == 0 {
		t.Fatal("registry is empty")
	}
	models[0].ID = "mutated"
	if ListModels()[0].ID == "mutated" {
		t.Error("ListModels should return a copy")
	}
}

func TestDefaultModel(t *testing.T) {
	if got := DefaultModel().ID; got != DefaultModelID {
		t.Errorf("DefaultModel().ID = %q, want %q", got, DefaultModelID)
	}
	if _, ok := LookupModel("nope"); ok {
		t.Error("LookupModel(nope) should fail")
	}
}

func TestDownload(t *testing.T) {
	content := []byte("fake gguf model content for testing")
	hash := sha256.Sum256(content)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
		_, _ = w.Write(content)
	}))
	defer server.Close()

	d := &Downloader{Dir: t.TempDir()}
	model := ModelInfo{
		ID:       "test-model",
		Name:     "Test Model",
		Filename: "test-model.gguf",
		URL:      server.URL + "/test-model.gguf",
		SHA256:   hex.EncodeToString(hash[:]),
	}

	var last provider.Progress
	path, err := d.Download(context.Background(), model, func(p provider.Progress) { last = p })
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != string(content) {
		t.Error("downloaded content doesn't match")
	}
	if last.Fraction != 1 {
		t.Errorf("last fraction = %v, want 1", last.Fraction)
	}
	if !strings.Contains(last.Text, "Test Model") {
		t.Errorf("progress text = %q", last.Text)
	}
	if !d.IsDownloaded(model) {
		t.Error("IsDownloaded = false after download")
	}
}

func TestDownloadResume(t *testing.T) {
	content := []byte("0123456789abcdef")
	var sawRange bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
			sawRange = true
			var start int64
			_, _ = fmt.Sscanf(rangeHeader, "bytes=%d-", &start)
			w.Header().Set("Content-Length", fmt.Sprintf("%d", int64(len(content))-start))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(content[start:])
			return
		}
		_, _ = w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "resume.gguf.part"), content[:8], 0o644)

	d := &Downloader{Dir: dir}
	path, err := d.Download(context.Background(), ModelInfo{
		Filename: "resume.gguf",
		URL:      server.URL,
	}, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !sawRange {
		t.Error("expected a Range request")
	}
	data, _ := os.ReadFile(path)
	if string(data) != string(content) {
		t.Errorf("content = %q, want %q", data, content)
	}
}

func TestDownloadSHA256Mismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("test content"))
	}))
	defer server.Close()

	d := &Downloader{Dir: t.TempDir()}
	_, err := d.Download(context.Background(), ModelInfo{
		Filename: "bad.gguf",
		URL:      server.URL,
		SHA256:   strings.Repeat("0", 64),
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "sha256 mismatch") {
		t.Fatalf("err = %v, want sha256 mismatch", err)
	}
	if _, statErr := os.Stat(filepath.Join(d.Dir, "bad.gguf.part")); !os.IsNotExist(statErr) {
		t.Error("part file should be removed after a mismatch")
	}
}

func TestDownloadExistingSkipsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "have.gguf"), []byte("x"), 0o644)

	d := &Downloader{Dir: dir}
	if _, err := d.Download(context.Background(), ModelInfo{Filename: "have.gguf", URL: server.URL}, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
}
