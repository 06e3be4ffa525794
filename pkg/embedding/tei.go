package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEIConfig points at a text-embeddings-inference server.
type TEIConfig struct {
	URL     string
	Timeout time.Duration
}

// TEIFactory creates extractors backed by the /embed_all endpoint of a
// text-embeddings-inference server, which returns unpooled token states.
type TEIFactory struct {
	cfg    TEIConfig
	client *http.Client
}

// NewTEIFactory returns a factory for cfg.
func NewTEIFactory(cfg TEIConfig) *TEIFactory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TEIFactory{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (f *TEIFactory) Name() string { return "tei" }

// teiInfo is the subset of GET /info used to confirm the server is up.
type teiInfo struct {
	ModelID string `json:"model_id"`
}

// New probes GET /info and returns an extractor for the served model.
func (f *TEIFactory) New(ctx context.Context) (Extractor, error) {
	base := strings.TrimRight(f.cfg.URL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/info", nil)
	if err != nil {
		return nil, fmt.Errorf("creating info request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding server unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server info returned status %d: %s", resp.StatusCode, string(body))
	}
	var info teiInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing info response: %w", err)
	}
	return &teiExtractor{base: base, model: info.ModelID, client: f.client}, nil
}

type teiExtractor struct {
	base   string
	model  string
	client *http.Client
}

type embedAllRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

func (e *teiExtractor) Extract(ctx context.Context, text string) (Tensor, error) {
	body, err := json.Marshal(embedAllRequest{Inputs: text, Truncate: true})
	if err != nil {
		return Tensor{}, fmt.Errorf("marshaling embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/embed_all", bytes.NewReader(body))
	if err != nil {
		return Tensor{}, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Tensor{}, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Tensor{}, fmt.Errorf("reading embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Tensor{}, fmt.Errorf("embed API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var batch [][][]float32
	if err := json.Unmarshal(respBody, &batch); err != nil {
		return Tensor{}, fmt.Errorf("parsing embed response: %w", err)
	}
	return NewTensor(batch)
}

func (e *teiExtractor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
