package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/chat"
	"github.com/rhuss/plauder/pkg/embedding"
	"github.com/rhuss/plauder/pkg/engine"
	"github.com/rhuss/plauder/pkg/provider"
	"github.com/rhuss/plauder/pkg/retrieval"
	"github.com/rhuss/plauder/pkg/storage"
	"github.com/rhuss/plauder/pkg/transport"
)

// Services are the components the adapter exposes over HTTP.
type Services struct {
	Engines   *engine.Manager
	Assembler *chat.Assembler
	Sessions  *chat.SessionStore
	Embedder  *embedding.Pipeline

	// Store, Indexer and Retriever are nil when retrieval is disabled; the
	// document and search endpoints then answer 501.
	Store     storage.Store
	Indexer   *retrieval.Indexer
	Retriever *retrieval.Retriever
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	Validation  api.ValidationConfig
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
		Validation:  api.DefaultValidationConfig(),
	}
}

// Adapter serves the plauder API over HTTP, SSE and WebSocket.
type Adapter struct {
	svc      Services
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// NewAdapter creates an HTTP adapter and registers its routes.
func NewAdapter(svc Services, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		svc:      svc,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleReady)

	a.mux.HandleFunc("GET /v1/engine", a.handleEngineStatus)
	a.mux.HandleFunc("POST /v1/engine/init", a.handleEngineInit)

	a.mux.HandleFunc("POST /v1/chat", a.handleChat)

	a.mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	a.mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	a.mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleDeleteSession)
	a.mux.HandleFunc("POST /v1/sessions/{id}/messages", a.handleSendMessage)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}/generation", a.handleCancelGeneration)
	a.mux.HandleFunc("GET /v1/sessions/{id}/ws", a.handleWebSocket)

	a.mux.HandleFunc("POST /v1/embeddings", a.handleEmbeddings)

	a.mux.HandleFunc("POST /v1/documents", a.handleIngest)
	a.mux.HandleFunc("GET /v1/documents", a.handleListDocuments)
	a.mux.HandleFunc("GET /v1/documents/{id}", a.handleGetDocument)
	a.mux.HandleFunc("DELETE /v1/documents/{id}", a.handleDeleteDocument)
	a.mux.HandleFunc("POST /v1/search", a.handleSearch)

	return a
}

// Handler returns the http.Handler for this adapter.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

// Mount registers an extra handler, such as /metrics or /mcp, on the
// adapter's mux.
func (a *Adapter) Mount(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// InFlight exposes the registry of running session generations.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// Event payloads shared by the SSE and WebSocket surfaces.
type (
	draftPayload struct {
		Message api.ChatMessage `json:"message"`
	}

	finalPayload struct {
		Message      api.ChatMessage `json:"message"`
		FinishReason string          `json:"finish_reason,omitempty"`
		Usage        *api.Usage      `json:"usage,omitempty"`
	}

	turnPayload struct {
		*chat.Turn
		Error *api.APIError `json:"error,omitempty"`
	}

	errorPayload struct {
		Error   *api.APIError `json:"error"`
		Partial string        `json:"partial,omitempty"`
	}

	progressPayload struct {
		Text     string  `json:"text"`
		Progress float64 `json:"progress"`
		Elapsed  float64 `json:"elapsed_seconds"`
	}
)

func newTurnPayload(turn *chat.Turn) turnPayload {
	p := turnPayload{Turn: turn}
	if turn.Err != nil {
		p.Error = classify(turn.Err)
	}
	return p
}

func newErrorPayload(err error) errorPayload {
	p := errorPayload{Error: classify(err)}
	var se *api.StreamError
	if errors.As(err, &se) {
		p.Partial = se.Partial
	}
	return p
}

// classify maps domain errors to API errors, adding the lookups api.FromError
// cannot know about.
func classify(err error) *api.APIError {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, chat.ErrSessionNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, retrieval.ErrEmptyDocument):
		return api.NewInvalidRequestError("content", err.Error())
	case errors.Is(err, storage.ErrConflict):
		return &api.APIError{Type: api.ErrorTypeInvalidRequest, Code: "conflict", Message: err.Error()}
	}
	return api.FromError(err)
}

func writeError(w http.ResponseWriter, err error) {
	transport.WriteAPIError(w, classify(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// wantsJSON reports whether the client asked for one JSON response instead
// of an event stream.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream")
}

// readBody enforces the JSON content type and the body size limit. It
// writes the error response itself and returns false on failure.
func (a *Adapter) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return nil, false
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.MaxBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return nil, false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "reading body: "+err.Error()))
		return nil, false
	}
	return body, true
}

// decode reads and unmarshals a JSON body into v.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := a.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// handleHealth handles GET /healthz. The process is alive if it answers.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /readyz: ready when the engine is loaded and the
// document store (if any) answers.
func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"engine": a.svc.Engines.State().String()}
	ready := a.svc.Engines.State() == engine.StateReady

	if a.svc.Store != nil {
		if err := a.svc.Store.HealthCheck(r.Context()); err != nil {
			status["storage"] = err.Error()
			ready = false
		} else {
			status["storage"] = "ok"
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleEngineStatus handles GET /v1/engine.
func (a *Adapter) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Engines.Status())
}

// handleEngineInit handles POST /v1/engine/init. It streams progress events
// followed by ready or error. Clients sending Accept: application/json get
// the final status only.
func (a *Adapter) handleEngineInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if wantsJSON(r) {
		if _, err := a.svc.Engines.Initialize(ctx, nil); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.svc.Engines.Status())
		return
	}

	sw := newSSEWriter(w)
	defer sw.close()

	_, err := a.svc.Engines.Initialize(ctx, func(p provider.Progress) {
		sw.WriteEvent(ctx, transport.EventProgress, progressPayload{
			Text:     p.Text,
			Progress: p.Fraction,
			Elapsed:  p.Elapsed.Seconds(),
		})
	})
	if err != nil {
		if !sw.started() {
			writeError(w, err)
			return
		}
		sw.WriteEvent(ctx, transport.EventError, newErrorPayload(err))
		return
	}
	sw.WriteEvent(ctx, transport.EventReady, a.svc.Engines.Status())
}

// handleChat handles POST /v1/chat: a stateless completion over the full
// history in the request body.
func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	if apiErr := api.ValidateChatRequestJSON(body); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	var req api.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return
	}
	if apiErr := api.ValidateChatRequest(&req, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	ctx := r.Context()
	stream, err := a.svc.Assembler.SendPromptWithOptions(ctx, req.Messages, provider.GenerateOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	if wantsJSON(r) {
		final, err := chat.Accumulate(stream, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, finalPayload{Message: final, FinishReason: stream.FinishReason(), Usage: stream.Usage()})
		return
	}

	sw := newSSEWriter(w)
	defer sw.close()

	final, err := chat.Accumulate(stream, func(draft api.ChatMessage) {
		sw.WriteEvent(ctx, transport.EventDraft, draftPayload{Message: draft})
	})
	if err != nil {
		if !sw.started() {
			writeError(w, err)
			return
		}
		sw.WriteEvent(ctx, transport.EventError, newErrorPayload(err))
		return
	}
	sw.WriteEvent(ctx, transport.EventFinal, finalPayload{
		Message:      final,
		FinishReason: stream.FinishReason(),
		Usage:        stream.Usage(),
	})
}

// sessionView is the JSON form of a session.
type sessionView struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Sending   bool              `json:"sending"`
	Messages  []api.ChatMessage `json:"messages"`
}

func viewOf(s *chat.Session) sessionView {
	msgs := s.Snapshot()
	if msgs == nil {
		msgs = []api.ChatMessage{}
	}
	return sessionView{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt(),
		Sending:   s.Sending(),
		Messages:  msgs,
	}
}

// handleCreateSession handles POST /v1/sessions.
func (a *Adapter) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := a.svc.Sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

// handleListSessions handles GET /v1/sessions.
func (a *Adapter) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.svc.Sessions.List(r.Context())
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": views})
}

// lookupSession validates the path ID and loads the session, writing the
// error response on failure.
func (a *Adapter) lookupSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("id", "malformed session ID"))
		return nil, false
	}
	sess, err := a.svc.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

// handleGetSession handles GET /v1/sessions/{id}. The messages include the
// draft reply while a turn is streaming.
func (a *Adapter) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

// handleDeleteSession handles DELETE /v1/sessions/{id}, cancelling any
// running generation first.
func (a *Adapter) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	a.inflight.Cancel(sess.ID)
	if err := a.svc.Sessions.Delete(r.Context(), sess.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Input string `json:"input"`
}

// handleSendMessage handles POST /v1/sessions/{id}/messages. Drafts stream
// as SSE events and the committed turn arrives as the final event. A failed
// turn still ends with a final event carrying the fallback reply and the
// error. Blank input is a no-op answered with 204.
func (a *Adapter) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if !a.decode(w, r, &req) {
		return
	}
	if a.config.Validation.MaxContentSize > 0 && len(req.Input) > a.config.Validation.MaxContentSize {
		transport.WriteAPIError(w, api.NewInvalidRequestError("input",
			fmt.Sprintf("input exceeds maximum of %d bytes", a.config.Validation.MaxContentSize)))
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// The slot is claimed before the turn is tracked, so a rejected
	// concurrent send never touches the running turn's registry entry.
	claim, err := sess.Claim()
	if err != nil {
		writeError(w, err)
		return
	}
	defer claim.Release()

	ctx, done := a.inflight.Track(r.Context(), sess.ID)
	defer done()

	if wantsJSON(r) {
		turn, err := claim.Send(ctx, req.Input, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTurnPayload(turn))
		return
	}

	sw := newSSEWriter(w)
	defer sw.close()

	turn, err := claim.Send(ctx, req.Input, func(draft api.ChatMessage) {
		sw.WriteEvent(r.Context(), transport.EventDraft, draftPayload{Message: draft})
	})
	if err != nil {
		if !sw.started() {
			writeError(w, err)
			return
		}
		sw.WriteEvent(r.Context(), transport.EventError, newErrorPayload(err))
		return
	}
	sw.WriteEvent(r.Context(), transport.EventFinal, newTurnPayload(turn))
}

// handleCancelGeneration handles DELETE /v1/sessions/{id}/generation.
func (a *Adapter) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	if !a.inflight.Cancel(sess.ID) {
		transport.WriteAPIError(w, api.NewNotFoundError("no generation in progress for session "+sess.ID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// embeddingsRequest accepts a single string or an array of strings.
type embeddingsRequest struct {
	Input json.RawMessage `json:"input"`
}

type embeddingData struct {
	Index     int                 `json:"index"`
	Embedding api.EmbeddingVector `json:"embedding"`
}

// handleEmbeddings handles POST /v1/embeddings.
func (a *Adapter) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if !a.decode(w, r, &req) {
		return
	}

	var texts []string
	var single string
	if err := json.Unmarshal(req.Input, &single); err == nil {
		texts = []string{single}
	} else if err := json.Unmarshal(req.Input, &texts); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("input", "input must be a string or an array of strings"))
		return
	}
	if len(texts) == 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("input", "input must not be empty"))
		return
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			transport.WriteAPIError(w, api.NewInvalidRequestError(fmt.Sprintf("input[%d]", i), "input must not be blank"))
			return
		}
	}

	vecs, err := a.svc.Embedder.EmbedBatch(r.Context(), texts)
	if err != nil {
		writeError(w, err)
		return
	}

	data := make([]embeddingData, len(vecs))
	for i, v := range vecs {
		data[i] = embeddingData{Index: i, Embedding: v}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object":  "list",
		"backend": a.svc.Embedder.Backend(),
		"data":    data,
	})
}

func (a *Adapter) retrievalEnabled(w http.ResponseWriter) bool {
	if a.svc.Indexer == nil || a.svc.Store == nil {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("", "document retrieval is not enabled"),
			http.StatusNotImplemented,
		)
		return false
	}
	return true
}

// handleIngest handles POST /v1/documents.
func (a *Adapter) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !a.retrievalEnabled(w) {
		return
	}
	var req retrieval.IngestRequest
	if !a.decode(w, r, &req) {
		return
	}
	doc, err := a.svc.Indexer.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// handleListDocuments handles GET /v1/documents.
func (a *Adapter) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if !a.retrievalEnabled(w) {
		return
	}
	docs, err := a.svc.Store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": docs})
}

// handleGetDocument handles GET /v1/documents/{id}.
func (a *Adapter) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if !a.retrievalEnabled(w) {
		return
	}
	doc, err := a.svc.Store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument handles DELETE /v1/documents/{id}.
func (a *Adapter) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !a.retrievalEnabled(w) {
		return
	}
	if err := a.svc.Store.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// handleSearch handles POST /v1/search.
func (a *Adapter) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !a.retrievalEnabled(w) {
		return
	}
	var req searchRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("query", "query must not be empty"))
		return
	}
	if req.Limit < 0 || req.Limit > 100 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("limit", "limit must be between 0 and 100"))
		return
	}

	results, err := a.svc.Retriever.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []storage.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": results})
}
