// Package mcp exposes plauder's chat, embedding and search capabilities as
// Model Context Protocol tools over streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/embedding"
	"github.com/rhuss/plauder/pkg/retrieval"
	"github.com/rhuss/plauder/pkg/storage"
)

// Services are the components the tools call into. Retriever may be nil,
// in which case search_documents is not registered.
type Services struct {
	Assembler *chat.Assembler
	Sessions  *chat.SessionStore
	Embedder  *embedding.Pipeline
	Retriever *retrieval.Retriever
}

// EmbedTextInput is the input of the embed_text tool.
type EmbedTextInput struct {
	Text string `json:"text" jsonschema:"the text to embed"`
}

// EmbedTextOutput is the structured result of embed_text.
type EmbedTextOutput struct {
	Backend    string    `json:"backend"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float32 `json:"embedding"`
}

// SearchInput is the input of the search_documents tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"what to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// SearchHit is one search_documents result.
type SearchHit struct {
	Source    string  `json:"source"`
	LineStart int     `json:"line_start,omitempty"`
	LineEnd   int     `json:"line_end,omitempty"`
	Score     float64 `json:"score"`
	Content   string  `json:"content"`
}

// SearchOutput is the structured result of search_documents.
type SearchOutput struct {
	Results []SearchHit `json:"results"`
}

// ChatInput is the input of the chat tool. Without a session ID the message
// is answered statelessly.
type ChatInput struct {
	Message   string `json:"message" jsonschema:"the user message"`
	SessionID string `json:"session_id,omitempty" jsonschema:"continue an existing session"`
}

// ChatOutput is the structured result of chat.
type ChatOutput struct {
	Reply        string `json:"reply"`
	FinishReason string `json:"finish_reason,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// NewServer creates an MCP server with the plauder tools registered.
func NewServer(svc Services, version string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "plauder", Version: version},
		nil,
	)

	t := &tools{svc: svc}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "embed_text",
		Description: "Returns the mean-pooled embedding vector of a text",
	}, t.embedText)

	if svc.Retriever != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "search_documents",
			Description: "Searches ingested documents for passages relevant to a query",
		}, t.searchDocuments)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat",
		Description: "Sends a message to the loaded model and returns the complete reply",
	}, t.chat)

	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

type tools struct {
	svc Services
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (t *tools) embedText(ctx context.Context, _ *mcp.CallToolRequest, in EmbedTextInput) (*mcp.CallToolResult, EmbedTextOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, EmbedTextOutput{}, errors.New("text must not be empty")
	}
	vec, err := t.svc.Embedder.Embed(ctx, in.Text)
	if err != nil {
		return nil, EmbedTextOutput{}, err
	}
	debug.Log("mcp", "embed_text", "dims", len(vec))

	out := EmbedTextOutput{
		Backend:    t.svc.Embedder.Backend(),
		Dimensions: len(vec),
		Embedding:  vec,
	}
	return textResult(fmt.Sprintf("%d-dimensional embedding from %s", out.Dimensions, out.Backend)), out, nil
}

func (t *tools) searchDocuments(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, errors.New("query must not be empty")
	}
	if in.Limit < 0 {
		return nil, SearchOutput{}, errors.New("limit must not be negative")
	}
	results, err := t.svc.Retriever.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	debug.Log("mcp", "search_documents", "query", debug.Truncate(in.Query, 80), "results", len(results))

	out := SearchOutput{Results: make([]SearchHit, len(results))}
	for i, r := range results {
		out.Results[i] = hitOf(r)
	}
	if len(results) == 0 {
		return textResult("No matching documents."), out, nil
	}
	return textResult(retrieval.FormatContext(results)), out, nil
}

func hitOf(r storage.SearchResult) SearchHit {
	return SearchHit{
		Source:    r.Chunk.Source,
		LineStart: r.Chunk.LineStart,
		LineEnd:   r.Chunk.LineEnd,
		Score:     r.Score,
		Content:   r.Chunk.Content,
	}
}

func (t *tools) chat(ctx context.Context, _ *mcp.CallToolRequest, in ChatInput) (*mcp.CallToolResult, ChatOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ChatOutput{}, errors.New("message must not be empty")
	}

	if in.SessionID != "" {
		return t.chatInSession(ctx, in)
	}

	stream, err := t.svc.Assembler.SendPrompt(ctx, []api.ChatMessage{api.UserMessage(in.Message)})
	if err != nil {
		return nil, ChatOutput{}, err
	}
	reply, err := chat.Accumulate(stream, nil)
	if err != nil {
		return nil, ChatOutput{}, err
	}

	out := ChatOutput{Reply: reply.Text(), FinishReason: stream.FinishReason()}
	return textResult(out.Reply), out, nil
}

// chatInSession runs a turn on an existing session. A failed turn commits
// the fallback reply, which is returned as a tool error.
func (t *tools) chatInSession(ctx context.Context, in ChatInput) (*mcp.CallToolResult, ChatOutput, error) {
	if t.svc.Sessions == nil {
		return nil, ChatOutput{}, errors.New("sessions are not available")
	}
	sess, err := t.svc.Sessions.Get(ctx, in.SessionID)
	if err != nil {
		return nil, ChatOutput{}, err
	}
	turn, err := sess.Send(ctx, in.Message, nil)
	if err != nil {
		return nil, ChatOutput{}, err
	}
	if turn.Err != nil {
		return nil, ChatOutput{}, fmt.Errorf("%s (%w)", turn.Reply.Text(), turn.Err)
	}

	out := ChatOutput{Reply: turn.Reply.Text(), FinishReason: turn.FinishReason, SessionID: sess.ID}
	return textResult(out.Reply), out, nil
}
