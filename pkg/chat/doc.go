// Package chat turns engine event streams into assistant messages.
//
// The Assembler sends a full conversation history to the ready engine and
// returns a Stream of chunks. Accumulate folds a Stream into draft messages
// and a final message. Session layers a committed history and a draft cell
// on top, so that a failed turn always ends with exactly one assistant
// message.
package chat
