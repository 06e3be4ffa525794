package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/engine"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestReadyzFollowsEngineState(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, true)

	resp := env.do(t, http.MethodGet, "/readyz", nil, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before init: status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	env.initialize(t)

	resp = env.do(t, http.MethodGet, "/readyz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("after init: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["engine"] != "ready" || body["storage"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestEngineStatusBeforeInit(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodGet, "/v1/engine", nil, "")
	var st map[string]any
	decodeJSON(t, resp, &st)
	if st["state"] != "absent" {
		t.Errorf("state = %v, want absent", st["state"])
	}
	if st["backend"] != "echo" {
		t.Errorf("backend = %v, want echo", st["backend"])
	}
}

func TestEngineInitStreamsProgress(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodPost, "/v1/engine/init", nil, "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	events := readEvents(t, resp.Body)
	names := eventNames(events)
	if len(names) < 2 || names[0] != "progress" || names[len(names)-1] != "ready" {
		t.Fatalf("events = %v, want progress... ready", names)
	}

	var p progressPayload
	if err := json.Unmarshal([]byte(events[0].data), &p); err != nil {
		t.Fatalf("progress payload: %v", err)
	}
	if p.Text != "loading weights" || p.Progress != 0.5 {
		t.Errorf("progress = %+v", p)
	}

	if env.manager.State() != engine.StateReady {
		t.Errorf("state = %v, want ready", env.manager.State())
	}
}

func TestEngineInitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.initialize(t)

	resp := env.do(t, http.MethodPost, "/v1/engine/init", nil, "")
	names := eventNames(readEvents(t, resp.Body))
	if len(names) != 1 || names[0] != "ready" {
		t.Errorf("events = %v, want [ready] without progress", names)
	}
	if n := env.manager.Status().LoadAttempts; n != 1 {
		t.Errorf("LoadAttempts = %d, want 1", n)
	}
}

func TestEngineInitJSON(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodPost, "/v1/engine/init", nil, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var st map[string]any
	decodeJSON(t, resp, &st)
	if st["state"] != "ready" {
		t.Errorf("state = %v, want ready", st["state"])
	}
}

func TestEngineInitFailureIsRetryable(t *testing.T) {
	loader := &echoLoader{fail: true}
	env := newTestEnv(t, loader, false)

	resp := env.do(t, http.MethodPost, "/v1/engine/init", nil, "")
	events := readEvents(t, resp.Body)
	last := events[len(events)-1]
	if last.name != "error" {
		t.Fatalf("last event = %q, want error", last.name)
	}
	var p errorPayload
	if err := json.Unmarshal([]byte(last.data), &p); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if p.Error.Type != api.ErrorTypeModelError {
		t.Errorf("error type = %q, want %q", p.Error.Type, api.ErrorTypeModelError)
	}

	loader.fail = false
	resp = env.do(t, http.MethodPost, "/v1/engine/init", nil, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("retry status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestChatBeforeInitIsUnavailable(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodPost, "/v1/chat", api.ChatRequest{
		Messages: []api.ChatMessage{api.UserMessage("hello")},
	}, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestChatStreamsDraftsThenFinal(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.initialize(t)

	resp := env.do(t, http.MethodPost, "/v1/chat", api.ChatRequest{
		Messages: []api.ChatMessage{api.UserMessage("one two three")},
	}, "")
	events := readEvents(t, resp.Body)
	names := eventNames(events)

	want := []string{"draft", "draft", "draft", "final"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", names, want)
	}

	var d draftPayload
	json.Unmarshal([]byte(events[1].data), &d)
	if d.Message.Text() != "one two" {
		t.Errorf("second draft = %q, want %q", d.Message.Text(), "one two")
	}

	var f finalPayload
	json.Unmarshal([]byte(events[3].data), &f)
	if f.Message.Text() != "one two three" || f.Message.Role != api.RoleAssistant {
		t.Errorf("final = %+v", f.Message)
	}
	if f.FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", f.FinishReason)
	}
}

func TestChatJSON(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.initialize(t)

	resp := env.do(t, http.MethodPost, "/v1/chat", api.ChatRequest{
		Messages: []api.ChatMessage{api.UserMessage("hi there")},
	}, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var f finalPayload
	decodeJSON(t, resp, &f)
	if f.Message.Text() != "hi there" {
		t.Errorf("content = %q, want %q", f.Message.Text(), "hi there")
	}
}

func TestChatStreamFailureEmitsError(t *testing.T) {
	env := newTestEnv(t, runtimeLoader{rt: &echoRuntime{failAfter: 2}}, false)
	env.initialize(t)

	resp := env.do(t, http.MethodPost, "/v1/chat", api.ChatRequest{
		Messages: []api.ChatMessage{api.UserMessage("a b c d")},
	}, "")
	events := readEvents(t, resp.Body)
	last := events[len(events)-1]
	if last.name != "error" {
		t.Fatalf("events = %v, want trailing error", eventNames(events))
	}
	var p errorPayload
	json.Unmarshal([]byte(last.data), &p)
	if p.Partial != "a b" {
		t.Errorf("partial = %q, want %q", p.Partial, "a b")
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.initialize(t)

	tests := []struct {
		name string
		body any
	}{
		{"no messages", map[string]any{"messages": []any{}}},
		{"last not user", api.ChatRequest{Messages: []api.ChatMessage{api.AssistantMessage("hi")}}},
		{"blank user", api.ChatRequest{Messages: []api.ChatMessage{api.UserMessage("  ")}}},
		{"bad role", map[string]any{"messages": []any{map[string]any{"role": "robot", "content": "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/chat", tt.body, "")
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestChatRejectsWrongContentType(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp, err := http.Post(env.server.URL+"/v1/chat", "text/plain", strings.NewReader("hi"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnsupportedMediaType)
	}
}

func TestChatRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.adapter.config.MaxBodySize = 64

	body := bytes.Repeat([]byte("x"), 128)
	resp, err := http.Post(env.server.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func createSession(t *testing.T, env *testEnv) sessionView {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/v1/sessions", nil, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var v sessionView
	decodeJSON(t, resp, &v)
	return v
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.initialize(t)

	sess := createSession(t, env)
	if !api.ValidateSessionID(sess.ID) {
		t.Fatalf("session ID %q is malformed", sess.ID)
	}

	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", sendRequest{Input: "hello world"}, "")
	names := eventNames(readEvents(t, resp.Body))
	if names[len(names)-1] != "final" {
		t.Fatalf("events = %v, want trailing final", names)
	}

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, nil, "")
	var got sessionView
	decodeJSON(t, resp, &got)
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[1].Text() != "hello world" || got.Sending {
		t.Errorf("session = %+v", got)
	}

	resp = env.do(t, http.MethodGet, "/v1/sessions", nil, "")
	var list struct {
		Data []sessionView `json:"data"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Data) != 1 {
		t.Errorf("listed %d sessions, want 1", len(list.Data))
	}

	resp = env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestSessionMalformedID(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodGet, "/v1/sessions/nope", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestSessionBlankInputIsNoop(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	env.initialize(t)
	sess := createSession(t, env)

	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", sendRequest{Input: "   "}, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	s, _ := env.sessions.Get(t.Context(), sess.ID)
	if n := len(s.History()); n != 0 {
		t.Errorf("history length = %d, want 0", n)
	}
}

func TestSessionFailureCommitsFallback(t *testing.T) {
	env := newTestEnv(t, runtimeLoader{rt: &echoRuntime{failAfter: 1}}, false)
	env.initialize(t)
	sess := createSession(t, env)

	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", sendRequest{Input: "a b c"}, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var turn struct {
		Reply api.ChatMessage `json:"reply"`
		Error *api.APIError   `json:"error"`
	}
	decodeJSON(t, resp, &turn)
	if turn.Reply.Text() != chat.FallbackText {
		t.Errorf("reply = %q, want fallback", turn.Reply.Text())
	}
	if turn.Error == nil {
		t.Error("turn should carry the error")
	}

	s, _ := env.sessions.Get(t.Context(), sess.ID)
	history := s.History()
	if len(history) != 2 || history[1].Text() != chat.FallbackText {
		t.Errorf("history = %+v, want user message and fallback", history)
	}
}

func TestSessionSendBeforeInitCommitsFallback(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)
	sess := createSession(t, env)

	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", sendRequest{Input: "hi"}, "")
	events := readEvents(t, resp.Body)
	if len(events) != 1 || events[0].name != "final" {
		t.Fatalf("events = %v, want a single final", eventNames(events))
	}
	var p struct {
		Reply api.ChatMessage `json:"reply"`
		Error *api.APIError   `json:"error"`
	}
	json.Unmarshal([]byte(events[0].data), &p)
	if p.Reply.Text() != chat.FallbackText || p.Error == nil || p.Error.Type != api.ErrorTypeEngineUnavailable {
		t.Errorf("final = %+v", p)
	}
}

func TestCancelGeneration(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	env := newTestEnv(t, runtimeLoader{rt: &echoRuntime{hold: hold}}, false)
	env.initialize(t)
	sess := createSession(t, env)

	resp := env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID+"/generation", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("idle cancel status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	done := make(chan []sseEvent, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/v1/sessions/"+sess.ID+"/messages",
			strings.NewReader(`{"input":"slow reply"}`))
		req.Header.Set("Content-Type", "application/json")
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- nil
			return
		}
		defer r.Body.Close()
		done <- readEvents(t, r.Body)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !env.adapter.InFlight().Active(sess.ID) {
		if time.Now().After(deadline) {
			t.Fatal("generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp = env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID+"/generation", nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("cancel status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	events := <-done
	if len(events) == 0 || events[len(events)-1].name != "final" {
		t.Fatalf("events = %v, want trailing final", eventNames(events))
	}
	s, _ := env.sessions.Get(t.Context(), sess.ID)
	history := s.History()
	if len(history) != 2 || history[1].Text() != chat.FallbackText {
		t.Errorf("history = %+v, want fallback after cancel", history)
	}
}

func TestRejectedSendKeepsGenerationCancellable(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	env := newTestEnv(t, runtimeLoader{rt: &echoRuntime{hold: hold}}, false)
	env.initialize(t)
	sess := createSession(t, env)

	done := make(chan []sseEvent, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/v1/sessions/"+sess.ID+"/messages",
			strings.NewReader(`{"input":"slow reply"}`))
		req.Header.Set("Content-Type", "application/json")
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- nil
			return
		}
		defer r.Body.Close()
		done <- readEvents(t, r.Body)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !env.adapter.InFlight().Active(sess.ID) {
		if time.Now().After(deadline) {
			t.Fatal("generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	tests := []struct {
		name   string
		accept string
	}{
		{"sse", ""},
		{"json", "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/messages", sendRequest{Input: "second"}, tt.accept)
			if resp.StatusCode != http.StatusTooManyRequests {
				t.Errorf("concurrent send status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
			}
			if !env.adapter.InFlight().Active(sess.ID) {
				t.Error("rejected send removed the running generation")
			}
		})
	}

	resp := env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID+"/generation", nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("cancel status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	events := <-done
	if len(events) == 0 || events[len(events)-1].name != "final" {
		t.Fatalf("events = %v, want trailing final", eventNames(events))
	}
	s, _ := env.sessions.Get(t.Context(), sess.ID)
	if history := s.History(); len(history) != 2 {
		t.Errorf("history = %+v, want one turn", history)
	}
}

func TestEmbeddings(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	tests := []struct {
		name  string
		input any
		want  int
	}{
		{"single", "hello world", 1},
		{"batch", []string{"one", "two", "three"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": tt.input}, "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			var body struct {
				Backend string          `json:"backend"`
				Data    []embeddingData `json:"data"`
			}
			decodeJSON(t, resp, &body)
			if len(body.Data) != tt.want {
				t.Fatalf("got %d vectors, want %d", len(body.Data), tt.want)
			}
			if body.Backend != "hash" {
				t.Errorf("backend = %q, want hash", body.Backend)
			}
			if len(body.Data[0].Embedding) != 64 {
				t.Errorf("dimensions = %d, want 64", len(body.Data[0].Embedding))
			}
		})
	}
}

func TestEmbeddingsRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	for _, input := range []any{"", []string{}, 42} {
		resp := env.do(t, http.MethodPost, "/v1/embeddings", map[string]any{"input": input}, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("input %v: status = %d, want %d", input, resp.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestDocumentsDisabled(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, false)

	resp := env.do(t, http.MethodGet, "/v1/documents", nil, "")
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
}

func TestDocumentsAndSearch(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, true)

	resp := env.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"source":  "notes/cats.md",
		"content": "# Cats\n\nCats sleep most of the day and purr when content.",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var doc struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Chunks int    `json:"chunks"`
	}
	decodeJSON(t, resp, &doc)
	if doc.ID == "" || doc.Chunks == 0 {
		t.Fatalf("document = %+v", doc)
	}

	resp = env.do(t, http.MethodPost, "/v1/search", searchRequest{Query: "cats purr"}, "")
	var results struct {
		Data []struct {
			Chunk struct {
				Source string `json:"source"`
			} `json:"chunk"`
			Score float64 `json:"score"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &results)
	if len(results.Data) == 0 || results.Data[0].Chunk.Source != "notes/cats.md" {
		t.Errorf("results = %+v", results.Data)
	}

	resp = env.do(t, http.MethodGet, "/v1/documents/"+doc.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp = env.do(t, http.MethodDelete, "/v1/documents/"+doc.ID, nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp = env.do(t, http.MethodGet, "/v1/documents/"+doc.ID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestIngestRejectsEmptyDocument(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, true)

	resp := env.do(t, http.MethodPost, "/v1/documents", map[string]any{"source": "empty.md", "content": "  "}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	env := newTestEnv(t, &echoLoader{}, true)

	resp := env.do(t, http.MethodPost, "/v1/search", searchRequest{Query: " "}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
