package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/transport"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsClientMessage is a frame sent by the client.
//
//	{"type":"send","input":"hello"}
//	{"type":"cancel"}
type wsClientMessage struct {
	Type  string `json:"type"`
	Input string `json:"input,omitempty"`
}

// wsServerMessage is a frame sent to the client. Type carries the event
// name (draft, final, error).
type wsServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsConn serializes writes to a websocket connection, which supports one
// concurrent writer only.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteEvent implements transport.EventWriter.
func (c *wsConn) WriteEvent(ctx context.Context, name string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(wsServerMessage{Type: name, Data: data})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebSocket handles GET /v1/sessions/{id}/ws. One connection drives
// one session: send frames start a turn, cancel frames stop it, and every
// turn streams draft frames followed by a final (or error) frame.
func (a *Adapter) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.Debug("websocket upgrade failed", "session", sess.ID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wc := &wsConn{conn: conn}
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var turns sync.WaitGroup
	defer turns.Wait()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := wc.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) {
					wc.WriteEvent(ctx, transport.EventError, errorPayload{
						Error: api.NewInvalidRequestError("body", "invalid JSON frame"),
					})
					continue
				}
				slog.Debug("websocket read ended", "session", sess.ID, "error", err)
			}
			cancel()
			return
		}

		switch msg.Type {
		case "send":
			if strings.TrimSpace(msg.Input) == "" {
				continue
			}
			claim, err := sess.Claim()
			if err != nil {
				wc.WriteEvent(ctx, transport.EventError, newErrorPayload(err))
				continue
			}
			turns.Add(1)
			go func(input string) {
				defer turns.Done()
				a.runTurn(ctx, sess.ID, claim, input, wc)
			}(msg.Input)
		case "cancel":
			a.inflight.Cancel(sess.ID)
		default:
			wc.WriteEvent(ctx, transport.EventError, errorPayload{
				Error: api.NewInvalidRequestError("type", "unknown message type "+msg.Type),
			})
		}
	}
}

// runTurn sends input on the claimed session and streams the turn to ew.
func (a *Adapter) runTurn(ctx context.Context, sessionID string, claim *chat.Claim, input string, ew transport.EventWriter) {
	defer claim.Release()

	turnCtx, done := a.inflight.Track(ctx, sessionID)
	defer done()

	turn, err := claim.Send(turnCtx, input, func(draft api.ChatMessage) {
		ew.WriteEvent(ctx, transport.EventDraft, draftPayload{Message: draft})
	})
	if err != nil {
		ew.WriteEvent(ctx, transport.EventError, newErrorPayload(err))
		return
	}
	if turn != nil {
		ew.WriteEvent(ctx, transport.EventFinal, newTurnPayload(turn))
	}
}
