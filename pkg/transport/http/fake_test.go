package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/embedding"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/provider"
	"github.com/rhuss/plauder/pkg/retrieval"
	"github.com/rhuss/plauder/pkg/storage/memory"
)

// echoLoader loads an echoRuntime, reporting one progress step.
type echoLoader struct {
	fail bool
}

func (l *echoLoader) Name() string { return "echo" }

func (l *echoLoader) Load(_ context.Context, _ string, progress provider.ProgressFunc) (provider.Runtime, error) {
	progress.Report(provider.Progress{Text: "loading weights", Fraction: 0.5})
	if l.fail {
		return nil, errors.New("weights unreadable")
	}
	progress.Report(provider.Progress{Text: "done", Fraction: 1})
	return &echoRuntime{}, nil
}

// echoRuntime answers with the words of the last message. When failAfter
// is set it breaks the stream after that many deltas. When hold is set it
// waits on it (or cancellation) after the first delta.
type echoRuntime struct {
	failAfter int
	hold      chan struct{}
}

func (r *echoRuntime) Model() string { return "echo" }

func (r *echoRuntime) ChatStream(ctx context.Context, messages []api.ChatMessage, _ provider.GenerateOptions) (<-chan provider.Event, error) {
	words := strings.Fields(messages[len(messages)-1].Text())
	ch := make(chan provider.Event)
	go func() {
		defer close(ch)
		send := func(ev provider.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for i, w := range words {
			if r.failAfter > 0 && i == r.failAfter {
				send(provider.Event{Type: provider.EventError, Err: errors.New("connection reset")})
				return
			}
			if i > 0 {
				w = " " + w
			}
			if !send(provider.Event{Type: provider.EventTextDelta, Delta: w}) {
				return
			}
			if i == 0 && r.hold != nil {
				select {
				case <-r.hold:
				case <-ctx.Done():
					return
				}
			}
		}
		send(provider.Event{Type: provider.EventDone, FinishReason: "stop", Usage: &api.Usage{TotalTokens: len(words)}})
	}()
	return ch, nil
}

func (r *echoRuntime) Close() error { return nil }

// runtimeLoader loads a fixed runtime.
type runtimeLoader struct {
	rt provider.Runtime
}

func (l runtimeLoader) Name() string { return "fixed" }

func (l runtimeLoader) Load(context.Context, string, provider.ProgressFunc) (provider.Runtime, error) {
	return l.rt, nil
}

// testEnv is a fully wired adapter over in-memory components.
type testEnv struct {
	manager  *engine.Manager
	sessions *chat.SessionStore
	adapter  *Adapter
	server   *httptest.Server
}

func newTestEnv(t *testing.T, loader provider.Loader, withRetrieval bool) *testEnv {
	t.Helper()

	manager := engine.NewManager(loader, engine.Config{})
	t.Cleanup(func() { manager.Close() })

	embedder := embedding.NewPipeline(embedding.HashFactory{Dimensions: 64})
	t.Cleanup(func() { embedder.Close() })

	svc := Services{Engines: manager, Embedder: embedder}

	var opts []chat.Option
	if withRetrieval {
		store := memory.New(0)
		svc.Store = store
		svc.Indexer = retrieval.NewIndexer(store, embedder, retrieval.ChunkOptions{Size: 200, Overlap: 20}, "memory")
		svc.Retriever = retrieval.NewRetriever(store, embedder, retrieval.RetrieverConfig{TopK: 3})
		opts = append(opts, chat.WithAugmenter(svc.Retriever))
	}
	svc.Assembler = chat.NewAssembler(manager, opts...)
	svc.Sessions = chat.NewSessionStore(svc.Assembler, 10)

	adapter := NewAdapter(svc, DefaultConfig())
	srv := httptest.NewServer(adapter.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{manager: manager, sessions: svc.Sessions, adapter: adapter, server: srv}
}

func (e *testEnv) initialize(t *testing.T) {
	t.Helper()
	if _, err := e.manager.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, accept string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses an SSE body into its events.
func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading events: %v", err)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.name
	}
	return names
}
