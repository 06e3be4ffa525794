// Command mock-backend runs a deterministic backend for development and
// integration testing. It serves an OpenAI-compatible streaming Chat
// Completions API and the text-embeddings-inference endpoints plauder uses.
//
// Replies depend on the last user message:
//
//	"count from 1 to 5"  streams "1, 2, 3, 4, 5"
//	"fail mid-stream"     breaks the stream after two tokens
//	anything else         streams "Hello, nice day!"
//
// A system message containing retrieved context is acknowledged with a
// reply that starts with "From the documents:".
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
//	MOCK_DIMS - Embedding width (default: 16)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode"
)

const mockModel = "mock-model"

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}
	dims := 16
	if v := os.Getenv("MOCK_DIMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			slog.Error("invalid MOCK_DIMS", "value", v)
			os.Exit(1)
		}
		dims = n
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /info", handleInfo)
	mux.HandleFunc("POST /embed_all", embedAllHandler(dims))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "dims", dims)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// --- Chat Completions ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// reply picks the tokens for a request and whether the stream breaks.
func reply(req *chatRequest) (tokens []string, breakAfter int) {
	last := strings.ToLower(lastUserMessage(req))
	switch {
	case strings.Contains(last, "count from 1 to 5"):
		return []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}, 0
	case strings.Contains(last, "fail mid-stream"):
		return []string{"Partial", " answer", " never", " finished"}, 2
	case hasContext(req):
		return []string{"From the documents:", " ", "yes", "."}, 0
	}
	return []string{"Hello", ", ", "nice", " ", "day", "!"}, 0
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Model != "" && req.Model != mockModel {
		writeError(w, http.StatusNotFound, fmt.Sprintf("model %q not found", req.Model))
		return
	}
	if !req.Stream {
		writeError(w, http.StatusBadRequest, "only streaming requests are supported")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	tokens, breakAfter := reply(&req)

	writeChunk(w, map[string]any{"role": "assistant"}, nil, nil)
	flusher.Flush()

	for i, token := range tokens {
		if breakAfter > 0 && i == breakAfter {
			// End the body without a finish chunk or [DONE].
			return
		}
		writeChunk(w, map[string]any{"content": token}, nil, nil)
		flusher.Flush()
	}

	finish := "stop"
	writeChunk(w, map[string]any{}, &finish, map[string]any{
		"prompt_tokens":     10,
		"completion_tokens": len(tokens),
		"total_tokens":      10 + len(tokens),
	})
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChunk(w http.ResponseWriter, delta map[string]any, finishReason *string, usage map[string]any) {
	chunk := map[string]any{
		"id":     "chatcmpl-mock-stream",
		"object": "chat.completion.chunk",
		"model":  mockModel,
		"choices": []any{
			map[string]any{
				"index":         0,
				"delta":         delta,
				"finish_reason": finishReason,
			},
		},
	}
	if usage != nil {
		chunk["usage"] = usage
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	})
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": mockModel, "object": "model", "owned_by": "plauder-mock"},
		},
	})
}

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func hasContext(req *chatRequest) bool {
	for _, msg := range req.Messages {
		if msg.Role == "system" && strings.HasPrefix(msg.Content, "Answer using the following context") {
			return true
		}
	}
	return false
}

// --- Text embeddings inference ---

func handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"model_id":   "mock-embedder",
		"model_type": map[string]any{"embedding": map[string]any{"pooling": "none"}},
	})
}

// embedAllHandler returns one token state per word: a one-hot-ish vector
// seeded by the word's hash, so texts sharing words land close together.
func embedAllHandler(dims int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}

		words := strings.FieldsFunc(strings.ToLower(req.Inputs), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		tokens := make([][]float32, 0, len(words))
		for _, word := range words {
			h := fnv.New32a()
			h.Write([]byte(word))
			sum := h.Sum32()
			vec := make([]float32, dims)
			vec[int(sum%uint32(dims))] = 1
			vec[int((sum>>8)%uint32(dims))] += 0.5
			tokens = append(tokens, vec)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([][][]float32{tokens})
	}
}
