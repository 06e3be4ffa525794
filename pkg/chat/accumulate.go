package chat

import (
	"strings"

	"github.com/rhuss/plauder/pkg/api"
)

// Accumulate reads stream to the end. After every chunk it calls onDraft,
// when non-nil, with an assistant message holding all text received so far.
// A chunk without a delta still produces a draft. On success it returns the
// final assistant message; on failure an *api.StreamError carrying the
// partial text.
func Accumulate(stream *Stream, onDraft func(api.ChatMessage)) (api.ChatMessage, error) {
	defer stream.Close()

	var acc strings.Builder
	for chunk := range stream.All() {
		acc.WriteString(chunk.Text())
		if onDraft != nil {
			onDraft(api.AssistantMessage(acc.String()))
		}
	}

	if err := stream.Err(); err != nil {
		return api.ChatMessage{}, &api.StreamError{
			Received: stream.Received(),
			Partial:  acc.String(),
			Err:      err,
		}
	}
	return api.AssistantMessage(acc.String()), nil
}
