//go:build !llama

package llamacpp

import "github.com/rhuss/plauder/pkg/provider"

// newRuntime returns ErrNotCompiled when built without the llama tag.
func newRuntime(_ Config, _, _ string) (provider.Runtime, error) {
	return nil, ErrNotCompiled
}
