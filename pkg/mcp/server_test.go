package mcp

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/embedding"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/provider"
	"github.com/rhuss/plauder/pkg/retrieval"
	"github.com/rhuss/plauder/pkg/storage/memory"
)

type replyLoader struct {
	reply string
	fail  bool
}

func (l replyLoader) Name() string { return "reply" }

func (l replyLoader) Load(context.Context, string, provider.ProgressFunc) (provider.Runtime, error) {
	return replyRuntime(l), nil
}

type replyRuntime struct {
	reply string
	fail  bool
}

func (r replyRuntime) Model() string { return "reply" }

func (r replyRuntime) ChatStream(ctx context.Context, _ []api.ChatMessage, _ provider.GenerateOptions) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, 2)
	if r.fail {
		ch <- provider.Event{Type: provider.EventError, Err: errors.New("backend down")}
	} else {
		ch <- provider.Event{Type: provider.EventTextDelta, Delta: r.reply}
		ch <- provider.Event{Type: provider.EventDone, FinishReason: "stop"}
	}
	close(ch)
	return ch, nil
}

func (r replyRuntime) Close() error { return nil }

// connect starts a server over in-memory transports and returns a client
// session for it.
func connect(t *testing.T, loader provider.Loader, withRetrieval bool) (*mcp.ClientSession, Services) {
	t.Helper()
	ctx := context.Background()

	manager := engine.NewManager(loader, engine.Config{})
	t.Cleanup(func() { manager.Close() })
	if _, err := manager.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	embedder := embedding.NewPipeline(embedding.HashFactory{Dimensions: 32})
	svc := Services{Embedder: embedder}
	if withRetrieval {
		store := memory.New(0)
		indexer := retrieval.NewIndexer(store, embedder, retrieval.ChunkOptions{}, "memory")
		if _, err := indexer.Ingest(ctx, retrieval.IngestRequest{
			Source:  "guide.md",
			Content: "Plauder streams drafts while the model is generating a reply.",
		}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		svc.Retriever = retrieval.NewRetriever(store, embedder, retrieval.RetrieverConfig{TopK: 2})
	}
	svc.Assembler = chat.NewAssembler(manager)
	svc.Sessions = chat.NewSessionStore(svc.Assembler, 0)

	server := NewServer(svc, "test")
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, svc
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), res.IsError
}

func TestToolsListed(t *testing.T) {
	tests := []struct {
		name          string
		withRetrieval bool
		want          []string
	}{
		{"without retrieval", false, []string{"chat", "embed_text"}},
		{"with retrieval", true, []string{"chat", "embed_text", "search_documents"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, _ := connect(t, replyLoader{reply: "hi"}, tt.withRetrieval)
			res, err := session.ListTools(context.Background(), nil)
			if err != nil {
				t.Fatalf("ListTools: %v", err)
			}
			var names []string
			for _, tool := range res.Tools {
				names = append(names, tool.Name)
			}
			sort.Strings(names)
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("tools = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestEmbedText(t *testing.T) {
	session, _ := connect(t, replyLoader{reply: "hi"}, false)

	text, isErr := callText(t, session, "embed_text", map[string]any{"text": "hello world"})
	if isErr {
		t.Fatalf("embed_text failed: %s", text)
	}
	if !strings.Contains(text, "32-dimensional") {
		t.Errorf("text = %q", text)
	}

	_, isErr = callText(t, session, "embed_text", map[string]any{"text": "  "})
	if !isErr {
		t.Error("blank text should be a tool error")
	}
}

func TestSearchDocuments(t *testing.T) {
	session, _ := connect(t, replyLoader{reply: "hi"}, true)

	text, isErr := callText(t, session, "search_documents", map[string]any{"query": "streams drafts"})
	if isErr {
		t.Fatalf("search_documents failed: %s", text)
	}
	if !strings.Contains(text, "guide.md") {
		t.Errorf("text = %q, want a citation of guide.md", text)
	}
}

func TestChatStateless(t *testing.T) {
	session, _ := connect(t, replyLoader{reply: "hello back"}, false)

	text, isErr := callText(t, session, "chat", map[string]any{"message": "hello"})
	if isErr || text != "hello back" {
		t.Errorf("chat = %q (error %v), want %q", text, isErr, "hello back")
	}
}

func TestChatInSession(t *testing.T) {
	session, svc := connect(t, replyLoader{reply: "noted"}, false)
	sess := svc.Sessions.Create(context.Background())

	text, isErr := callText(t, session, "chat", map[string]any{"message": "remember this", "session_id": sess.ID})
	if isErr || text != "noted" {
		t.Fatalf("chat = %q (error %v)", text, isErr)
	}
	if n := len(sess.History()); n != 2 {
		t.Errorf("history length = %d, want 2", n)
	}

	_, isErr = callText(t, session, "chat", map[string]any{"message": "hi", "session_id": "sess_missing"})
	if !isErr {
		t.Error("unknown session should be a tool error")
	}
}

func TestChatFailureInSessionCommitsFallback(t *testing.T) {
	session, svc := connect(t, replyLoader{fail: true}, false)
	sess := svc.Sessions.Create(context.Background())

	text, isErr := callText(t, session, "chat", map[string]any{"message": "hi", "session_id": sess.ID})
	if !isErr {
		t.Fatal("failed turn should be a tool error")
	}
	if !strings.Contains(text, chat.FallbackText) {
		t.Errorf("text = %q, want the fallback reply", text)
	}
	history := sess.History()
	if len(history) != 2 || history[1].Text() != chat.FallbackText {
		t.Errorf("history = %+v", history)
	}
}
