package integration

import (
	"net/http"
	"testing"
)

const zebraFacts = "The zebra is black and white."

type documentJSON struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Title  string `json:"title"`
	Chunks int    `json:"chunks"`
}

type searchResultJSON struct {
	Chunk struct {
		DocumentID string `json:"document_id"`
		Content    string `json:"content"`
		Source     string `json:"source"`
	} `json:"chunk"`
	Score float64 `json:"score"`
}

func ingest(t *testing.T, source, content string) documentJSON {
	t.Helper()
	resp := postJSON(t, testEnv.BaseURL()+"/v1/documents", map[string]any{
		"source":  source,
		"title":   "Zebras",
		"content": content,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var doc documentJSON
	decodeJSON(t, resp, &doc)
	return doc
}

func search(t *testing.T, query string) []searchResultJSON {
	t.Helper()
	resp := postJSON(t, testEnv.BaseURL()+"/v1/search", map[string]any{"query": query, "limit": 3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var list struct {
		Data []searchResultJSON `json:"data"`
	}
	decodeJSON(t, resp, &list)
	return list.Data
}

func TestDocumentLifecycle(t *testing.T) {
	doc := ingest(t, "zebras.md", zebraFacts)
	if doc.ID == "" || doc.Source != "zebras.md" || doc.Chunks != 1 {
		t.Fatalf("document = %+v", doc)
	}

	resp := getURL(t, testEnv.BaseURL()+"/v1/documents/"+doc.ID)
	var got documentJSON
	decodeJSON(t, resp, &got)
	if got.ID != doc.ID || got.Title != "Zebras" {
		t.Errorf("get document = %+v", got)
	}

	resp = getURL(t, testEnv.BaseURL()+"/v1/documents")
	var list struct {
		Data []documentJSON `json:"data"`
	}
	decodeJSON(t, resp, &list)
	found := false
	for _, d := range list.Data {
		found = found || d.ID == doc.ID
	}
	if !found {
		t.Errorf("document %s not listed", doc.ID)
	}

	results := search(t, zebraFacts)
	if len(results) == 0 {
		t.Fatal("search returned no results")
	}
	if results[0].Chunk.DocumentID != doc.ID || results[0].Chunk.Source != "zebras.md" {
		t.Errorf("top result = %+v", results[0])
	}
	if results[0].Score < 0.99 {
		t.Errorf("score for identical text = %f, want ~1", results[0].Score)
	}

	resp = deleteURL(t, testEnv.BaseURL()+"/v1/documents/"+doc.ID)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}

	resp = getURL(t, testEnv.BaseURL()+"/v1/documents/"+doc.ID)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", resp.StatusCode)
	}
	for _, r := range search(t, zebraFacts) {
		if r.Chunk.DocumentID == doc.ID {
			t.Error("deleted document still returned by search")
		}
	}
}

func TestChatAugmentedWithDocuments(t *testing.T) {
	doc := ingest(t, "zebras-chat.md", zebraFacts)
	defer func() {
		readBody(t, deleteURL(t, testEnv.BaseURL()+"/v1/documents/"+doc.ID))
	}()

	sess := createSession(t)
	resp := doJSON(t, http.MethodPost, testEnv.BaseURL()+"/v1/sessions/"+sess.ID+"/messages",
		map[string]string{"input": zebraFacts}, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var turn turnJSON
	decodeJSON(t, resp, &turn)
	if turn.Reply.Content != "From the documents." {
		t.Errorf("reply = %q, want an answer grounded in the documents", turn.Reply.Content)
	}

	// The retrieved context is sent to the backend, never stored in history.
	got := getSession(t, sess.ID)
	if len(got.Messages) != 2 || got.Messages[0].Role != "user" {
		t.Errorf("history = %+v", got.Messages)
	}
}

func TestIngestRejectsEmptyDocument(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/v1/documents", map[string]any{"source": "empty.md", "content": "  \n "})
	var ej errorJSON
	decodeJSON(t, resp, &ej)
	if resp.StatusCode != http.StatusBadRequest || ej.Error.Type != "invalid_request" {
		t.Errorf("got %d %+v, want 400 invalid_request", resp.StatusCode, ej.Error)
	}
}

func TestDocumentsDisabledWithoutRetrieval(t *testing.T) {
	cfg := testConfig(testEnv.MockBackend.URL)
	cfg.Retrieval.Enabled = false
	a, srv, err := newServer(cfg)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	defer a.Close()
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/v1/search", map[string]any{"query": "zebra"})
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", resp.StatusCode)
	}
}
