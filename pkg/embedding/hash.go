package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashFactory creates extractors that derive token states from word
// hashes. Vectors are deterministic and need no model, which suits tests
// and offline development. Texts sharing words score as similar.
type HashFactory struct {
	Dimensions int
}

func (f HashFactory) Name() string { return "hash" }

func (f HashFactory) New(context.Context) (Extractor, error) {
	dims := f.Dimensions
	if dims <= 0 {
		dims = 384
	}
	return hashExtractor{dims: dims}, nil
}

type hashExtractor struct {
	dims int
}

func (h hashExtractor) Extract(ctx context.Context, text string) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([][]float32, 0, len(words))
	for _, w := range words {
		row := make([]float32, h.dims)
		hash := fnv.New64a()
		hash.Write([]byte(w))
		sum := hash.Sum64()
		// Spread each word over a few signed buckets.
		for i := range 4 {
			bucket := int((sum >> (i * 16)) % uint64(h.dims))
			if (sum>>(i+60))&1 == 1 {
				row[bucket] -= 1
			} else {
				row[bucket] += 1
			}
		}
		tokens = append(tokens, row)
	}
	return NewTensor([][][]float32{tokens})
}

func (hashExtractor) Close() error { return nil }
