package embedding

import (
	"fmt"

	"github.com/rhuss/plauder/pkg/api"
)

// MeanPool averages a [tokens][hidden] matrix over its tokens:
// out[d] = sum_t m[t][d] / len(m). An empty matrix yields
// api.ErrEmptySequence and rows of unequal width api.ErrRaggedMatrix.
func MeanPool(m [][]float32) (api.EmbeddingVector, error) {
	if len(m) == 0 {
		return nil, api.ErrEmptySequence
	}
	hidden := len(m[0])
	sums := make([]float64, hidden)
	for t, row := range m {
		if len(row) != hidden {
			return nil, fmt.Errorf("%w: token %d has width %d, want %d", api.ErrRaggedMatrix, t, len(row), hidden)
		}
		for d, v := range row {
			sums[d] += float64(v)
		}
	}
	out := make(api.EmbeddingVector, hidden)
	n := float64(len(m))
	for d, s := range sums {
		out[d] = float32(s / n)
	}
	return out, nil
}

// PoolTensor mean-pools the single sequence of a [1, tokens, hidden]
// tensor. Batches other than 1 yield api.ErrBatchSize and a mask with
// padding api.ErrPaddedSequence.
func PoolTensor(t Tensor) (api.EmbeddingVector, error) {
	batch, _, _, err := t.Dims()
	if err != nil {
		return nil, err
	}
	if batch != 1 {
		return nil, fmt.Errorf("%w: got %d sequences", api.ErrBatchSize, batch)
	}
	for i, v := range t.Mask {
		if v == 0 {
			return nil, fmt.Errorf("%w: token %d is masked", api.ErrPaddedSequence, i)
		}
	}
	nested, err := t.ToNestedList()
	if err != nil {
		return nil, err
	}
	return MeanPool(nested[0])
}
