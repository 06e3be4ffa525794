package llamacpp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rhuss/plauder/pkg/provider"
)

// Downloader fetches GGUF files into Dir.
type Downloader struct {
	Dir    string
	Client *http.Client
}

// Path returns where the model file lives once downloaded.
func (d *Downloader) Path(model ModelInfo) string {
	return filepath.Join(d.Dir, model.Filename)
}

// IsDownloaded reports whether the model file exists and is non-empty.
func (d *Downloader) IsDownloaded(model ModelInfo) bool {
	info, err := os.Stat(d.Path(model))
	return err == nil && info.Size() > 0
}

// Download fetches the model with resume support and optional SHA256
// verification. An existing complete file is returned without a request.
func (d *Downloader) Download(ctx context.Context, model ModelInfo, progress provider.ProgressFunc) (string, error) {
	destPath := d.Path(model)
	if d.IsDownloaded(model) {
		return destPath, nil
	}

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create models dir: %w", err)
	}
	partPath := destPath + ".part"

	var existingSize int64
	if info, err := os.Stat(partPath); err == nil {
		existingSize = info.Size()
	}

	resp, err := d.request(ctx, model.URL, existingSize)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		existingSize = 0
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// The part file is complete or the server ignores ranges; start over.
		_ = resp.Body.Close()
		existingSize = 0
		resp, err = d.request(ctx, model.URL, 0)
		if err != nil {
			return "", err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("unexpected status on retry: %s", resp.Status)
		}
	default:
		return "", fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	totalSize := model.Size
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			totalSize = n + existingSize
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if existingSize > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	partFile, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return "", fmt.Errorf("open part file: %w", err)
	}
	defer func() { _ = partFile.Close() }()

	start := time.Now()
	downloaded := existingSize
	lastPercent := -1
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := partFile.Write(buf[:n]); writeErr != nil {
				return "", fmt.Errorf("write: %w", writeErr)
			}
			downloaded += int64(n)
			if p, ok := downloadProgress(model, downloaded, totalSize, &lastPercent); ok {
				p.Elapsed = time.Since(start)
				progress.Report(p)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return "", fmt.Errorf("read: %w", readErr)
		}
	}

	if err := partFile.Close(); err != nil {
		return "", fmt.Errorf("close part file: %w", err)
	}

	if model.SHA256 != "" {
		hash, err := fileSHA256(partPath)
		if err != nil {
			return "", fmt.Errorf("compute sha256: %w", err)
		}
		if hash != model.SHA256 {
			_ = os.Remove(partPath)
			return "", fmt.Errorf("sha256 mismatch: expected %s, got %s", model.SHA256, hash)
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}
	return destPath, nil
}

func (d *Downloader) request(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	return resp, nil
}

// downloadProgress builds a report when the whole percentage changed.
func downloadProgress(model ModelInfo, downloaded, total int64, lastPercent *int) (provider.Progress, bool) {
	if total <= 0 {
		return provider.Progress{
			Text: fmt.Sprintf("Fetching %s: %d MB", model.Name, downloaded>>20),
		}, true
	}
	fraction := float64(downloaded) / float64(total)
	percent := int(fraction * 100)
	if percent == *lastPercent {
		return provider.Progress{}, false
	}
	*lastPercent = percent
	return provider.Progress{
		Text:     fmt.Sprintf("Fetching %s: %d%% (%d / %d MB)", model.Name, percent, downloaded>>20, total>>20),
		Fraction: fraction,
	}, true
}

// RemoveModel deletes a downloaded model file.
func (d *Downloader) RemoveModel(model ModelInfo) error {
	path := d.Path(model)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("model not found: %s", model.Filename)
	}
	return os.Remove(path)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DefaultModelsDir returns ~/.plauder/models, or ./.plauder/models when the
// home directory is unknown.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".plauder", "models")
	}
	return filepath.Join(home, ".plauder", "models")
}
