// Package retrieval indexes documents as embedded chunks and augments chat
// prompts with the chunks most similar to the user's question.
package retrieval
