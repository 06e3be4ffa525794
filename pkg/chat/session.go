package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
)

// FallbackText is committed as the assistant reply when a turn fails.
const FallbackText = "Sorry, an error occurred while processing your message."

// Turn is the outcome of one Session.Send.
type Turn struct {
	User         api.ChatMessage `json:"user"`
	Reply        api.ChatMessage `json:"reply"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *api.Usage      `json:"usage,omitempty"`

	// Err is the failure behind a fallback reply, nil on success.
	Err error `json:"-"`
}

// Session is one conversation: an append-only committed history plus a
// draft cell holding the assistant reply in progress.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	assembler *Assembler
	tenant    string
	sending   atomic.Bool

	mu      sync.RWMutex
	history []api.ChatMessage
	draft   *api.ChatMessage
	updated time.Time
}

// NewSession creates an empty session bound to assembler.
func NewSession(assembler *Assembler) *Session {
	now := time.Now()
	return &Session{
		ID:        api.NewSessionID(),
		CreatedAt: now,
		assembler: assembler,
		updated:   now,
	}
}

// Send runs one turn. Blank input is ignored and returns a nil Turn. On
// success the final assistant message is committed. On any failure the
// fallback message is committed instead and reported in Turn.Err. The draft
// cell is empty when Send returns. A second Send while one is running
// returns api.ErrSendInProgress.
func (s *Session) Send(ctx context.Context, input string, onDraft func(api.ChatMessage)) (*Turn, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	claim, err := s.Claim()
	if err != nil {
		return nil, err
	}
	return claim.Send(ctx, input, onDraft)
}

// Claim reserves the session for one turn, so callers can register the turn
// elsewhere (for cancellation) before it starts. It returns
// api.ErrSendInProgress when a turn is running or already claimed.
func (s *Session) Claim() (*Claim, error) {
	if !s.sending.CompareAndSwap(false, true) {
		return nil, api.ErrSendInProgress
	}
	return &Claim{session: s}, nil
}

// Claim is a reserved send slot on a Session. It is good for one Send;
// Release gives the slot back without sending.
type Claim struct {
	session  *Session
	released atomic.Bool
}

// Release frees the slot. It is safe to call more than once and after Send.
func (c *Claim) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.session.sending.Store(false)
	}
}

// Send runs one turn on the claimed session and releases the claim. It has
// the same results as Session.Send, except that a released claim returns
// ErrClaimReleased.
func (c *Claim) Send(ctx context.Context, input string, onDraft func(api.ChatMessage)) (*Turn, error) {
	if c.released.Load() {
		return nil, ErrClaimReleased
	}
	defer c.Release()

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	return c.session.run(ctx, input, onDraft), nil
}

func (s *Session) run(ctx context.Context, input string, onDraft func(api.ChatMessage)) *Turn {
	turn := &Turn{User: api.UserMessage(input)}

	s.mu.Lock()
	s.history = append(s.history, turn.User)
	history := api.CloneMessages(s.history)
	s.updated = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draft = nil
		s.history = append(s.history, turn.Reply)
		s.updated = time.Now()
		s.mu.Unlock()
	}()

	stream, err := s.assembler.SendPrompt(ctx, history)
	if err != nil {
		s.fail(turn, err)
		return turn
	}

	final, err := Accumulate(stream, func(draft api.ChatMessage) {
		s.mu.Lock()
		s.draft = &draft
		s.mu.Unlock()
		if onDraft != nil {
			onDraft(draft)
		}
	})
	if err != nil {
		s.fail(turn, err)
		return turn
	}

	turn.Reply = final
	turn.FinishReason = stream.FinishReason()
	turn.Usage = stream.Usage()
	debug.Log("chat", "turn complete", "session", s.ID, "chars", len(final.Text()))
	return turn
}

func (s *Session) fail(turn *Turn, err error) {
	slog.Error("chat turn failed", "session", s.ID, "error", err)
	turn.Reply = api.AssistantMessage(FallbackText)
	turn.Err = err
}

// History returns a copy of the committed messages.
func (s *Session) History() []api.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return api.CloneMessages(s.history)
}

// Draft returns the assistant reply in progress, if any.
func (s *Session) Draft() (api.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft == nil {
		return api.ChatMessage{}, false
	}
	return *s.draft, true
}

// Snapshot returns the committed history followed by the draft, if any.
func (s *Session) Snapshot() []api.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := api.CloneMessages(s.history)
	if s.draft != nil {
		out = append(out, *s.draft)
	}
	return out
}

// Sending reports whether a turn is in progress.
func (s *Session) Sending() bool {
	return s.sending.Load()
}

// UpdatedAt returns the time of the last history change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
