package api

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ChatRequest is the body of a stateless chat completion request.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    1000,
		MaxContentSize: 1024 * 1024, // 1MB
	}
}

const chatRequestSchema = `{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role"],
        "properties": {
          "role": {"enum": ["user", "assistant", "system"]},
          "content": {"type": ["string", "null"]}
        }
      }
    },
    "temperature": {"type": "number"},
    "max_tokens": {"type": "integer"}
  }
}`

var (
	chatSchemaOnce sync.Once
	chatSchema     *gojsonschema.Schema
	chatSchemaErr  error
)

// ValidateChatRequestJSON checks the raw request body against the chat
// request JSON schema before it is decoded.
func ValidateChatRequestJSON(body []byte) *APIError {
	chatSchemaOnce.Do(func() {
		chatSchema, chatSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(chatRequestSchema))
	})
	if chatSchemaErr != nil {
		return NewServerError("chat request schema: " + chatSchemaErr.Error())
	}

	result, err := chatSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return NewInvalidRequestError("", "malformed JSON body: "+err.Error())
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	return NewInvalidRequestError(first.Field(), first.Description())
}

// ValidateChatRequest checks a decoded ChatRequest. It returns an *APIError
// describing the first validation failure, or nil if the request is valid.
func ValidateChatRequest(req *ChatRequest, cfg ValidationConfig) *APIError {
	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	if apiErr := ValidateHistory(req.Messages, cfg); apiErr != nil {
		return apiErr
	}

	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be positive")
	}

	if req.Temperature != nil {
		if *req.Temperature < 0.0 || *req.Temperature > 2.0 {
			return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
		}
	}

	return nil
}

// ValidateHistory checks roles and content sizes of a message sequence and
// requires the last message to be a non-blank user message.
func ValidateHistory(msgs []ChatMessage, cfg ValidationConfig) *APIError {
	if len(msgs) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one message")
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return NewInvalidRequestError(fmt.Sprintf("messages[%d].role", i),
				fmt.Sprintf("unknown role %q", m.Role))
		}
		if cfg.MaxContentSize > 0 && len(m.Text()) > cfg.MaxContentSize {
			return NewInvalidRequestError(fmt.Sprintf("messages[%d].content", i),
				fmt.Sprintf("content exceeds maximum of %d bytes", cfg.MaxContentSize))
		}
	}

	last := msgs[len(msgs)-1]
	if last.Role != RoleUser {
		return NewInvalidRequestError("messages", "last message must have role user")
	}
	if strings.TrimSpace(last.Text()) == "" {
		return NewInvalidRequestError("messages", "last user message must not be empty")
	}
	return nil
}
