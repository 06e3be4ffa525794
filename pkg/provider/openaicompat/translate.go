package openaicompat

import (
	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/provider"
)

// TranslateToChat builds a streaming Chat Completions request for the full
// message history.
func TranslateToChat(model string, messages []api.ChatMessage, opts provider.GenerateOptions) *ChatCompletionRequest {
	req := &ChatCompletionRequest{
		Model:         model,
		Messages:      make([]ChatMessage, 0, len(messages)),
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		Stop:          opts.Stop,
		Stream:        true,
		StreamOptions: &ChatStreamOptions{IncludeUsage: true},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return req
}

func translateUsage(u *ChatUsage) *api.Usage {
	if u == nil {
		return nil
	}
	return &api.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
