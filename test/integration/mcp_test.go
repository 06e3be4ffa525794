package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connectMCP(t *testing.T) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "integration-test", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{
		Endpoint: testEnv.BaseURL() + "/mcp",
	}, nil)
	if err != nil {
		t.Fatalf("connecting to MCP endpoint: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestMCPTools(t *testing.T) {
	session := connectMCP(t)
	ctx := context.Background()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"chat", "embed_text", "search_documents"} {
		if !names[want] {
			t.Errorf("tool %s not listed", want)
		}
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "chat",
		Arguments: map[string]any{"message": "count from 1 to 5"},
	})
	if err != nil {
		t.Fatalf("CallTool(chat): %v", err)
	}
	if res.IsError {
		t.Fatalf("chat tool returned an error: %+v", res.Content)
	}
	var text []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			text = append(text, tc.Text)
		}
	}
	if got := strings.Join(text, ""); !strings.Contains(got, "1, 2, 3, 4, 5") {
		t.Errorf("chat tool text = %q", got)
	}
}
