package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/provider"
)

type tokensLoader []string

func (l tokensLoader) Name() string { return "tokens" }

func (l tokensLoader) Load(context.Context, string, provider.ProgressFunc) (provider.Runtime, error) {
	return tokensRuntime(l), nil
}

type tokensRuntime []string

func (r tokensRuntime) Model() string { return "tokens" }

func (r tokensRuntime) ChatStream(context.Context, []api.ChatMessage, provider.GenerateOptions) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, len(r)+1)
	for _, tok := range r {
		ch <- provider.Event{Type: provider.EventTextDelta, Delta: tok}
	}
	ch <- provider.Event{Type: provider.EventDone, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (r tokensRuntime) Close() error { return nil }

func TestSendTurnPrintsIncrementally(t *testing.T) {
	ctx := context.Background()
	m := engine.NewManager(tokensLoader{"Hel", "lo", " there"}, engine.Config{})
	defer m.Close()
	if _, err := m.Initialize(ctx, nil); err != nil {
		t.Fatal(err)
	}
	sess := chat.NewSession(chat.NewAssembler(m))

	var out bytes.Buffer
	if err := sendTurn(ctx, &out, sess, "hi"); err != nil {
		t.Fatalf("sendTurn: %v", err)
	}
	if got := out.String(); got != "Hello there\n" {
		t.Errorf("output = %q, want each token printed once", got)
	}

	out.Reset()
	if err := sendTurn(ctx, &out, sess, "   "); err != nil {
		t.Fatalf("sendTurn(blank): %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("blank input printed %q", out.String())
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{397_000_000, "378.6 MB"},
		{4_920_000_000, "4.6 GB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookupModel(t *testing.T) {
	m, err := lookupModel("")
	if err != nil || !m.Default {
		t.Errorf("empty ID = %+v, %v, want the default model", m, err)
	}
	if _, err := lookupModel("no-such-model"); err == nil {
		t.Error("expected error for unknown model")
	}
}
