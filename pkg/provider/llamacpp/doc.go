// Package llamacpp runs GGUF models in process through llama.cpp.
//
// Model identifiers resolve through a small registry of downloadable models
// or name a GGUF file directly. Missing files are downloaded into the models
// directory with resume support, and download progress is forwarded to the
// load progress callback.
//
// Inference requires building with the llama tag (go build -tags llama),
// which links llama.cpp through cgo. Without the tag, Load resolves and
// downloads the model and then fails with ErrNotCompiled.
package llamacpp
