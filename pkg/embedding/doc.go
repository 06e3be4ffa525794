// Package embedding turns free text into fixed-length vectors.
//
// A Pipeline owns one feature Extractor, constructed on first use. The
// extractor yields per-token hidden states as a Tensor of shape
// [batch, tokens, hidden]; mean pooling over the token axis produces the
// embedding vector.
package embedding
