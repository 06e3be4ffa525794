package embedding

import "fmt"

// Tensor is a dense row-major float tensor as returned by a feature
// extractor. Mask, when set, holds one attention flag per token of each
// sequence (batch*tokens entries); 0 marks padding.
type Tensor struct {
	Shape []int
	Data  []float32
	Mask  []int
}

// NewTensor builds a [batch, tokens, hidden] tensor from nested rows and
// sets an all-ones mask.
func NewTensor(batch [][][]float32) (Tensor, error) {
	if len(batch) == 0 {
		return Tensor{Shape: []int{0, 0, 0}}, nil
	}
	tokens := len(batch[0])
	hidden := 0
	if tokens > 0 {
		hidden = len(batch[0][0])
	}
	t := Tensor{
		Shape: []int{len(batch), tokens, hidden},
		Data:  make([]float32, 0, len(batch)*tokens*hidden),
		Mask:  make([]int, 0, len(batch)*tokens),
	}
	for b, seq := range batch {
		if len(seq) != tokens {
			return Tensor{}, fmt.Errorf("sequence %d has %d tokens, want %d", b, len(seq), tokens)
		}
		for i, row := range seq {
			if len(row) != hidden {
				return Tensor{}, fmt.Errorf("sequence %d token %d has width %d, want %d", b, i, len(row), hidden)
			}
			t.Data = append(t.Data, row...)
			t.Mask = append(t.Mask, 1)
		}
	}
	return t, nil
}

// Dims returns batch, tokens and hidden sizes.
func (t Tensor) Dims() (batch, tokens, hidden int, err error) {
	if len(t.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("tensor rank %d, want 3", len(t.Shape))
	}
	batch, tokens, hidden = t.Shape[0], t.Shape[1], t.Shape[2]
	if batch < 0 || tokens < 0 || hidden < 0 {
		return 0, 0, 0, fmt.Errorf("negative tensor shape %v", t.Shape)
	}
	if len(t.Data) != batch*tokens*hidden {
		return 0, 0, 0, fmt.Errorf("tensor data has %d values, shape %v needs %d", len(t.Data), t.Shape, batch*tokens*hidden)
	}
	if t.Mask != nil && len(t.Mask) != batch*tokens {
		return 0, 0, 0, fmt.Errorf("tensor mask has %d entries, want %d", len(t.Mask), batch*tokens)
	}
	return batch, tokens, hidden, nil
}

// ToNestedList converts the tensor to [batch][tokens][hidden] slices. The
// rows alias Data.
func (t Tensor) ToNestedList() ([][][]float32, error) {
	batch, tokens, hidden, err := t.Dims()
	if err != nil {
		return nil, err
	}
	out := make([][][]float32, batch)
	for b := range batch {
		seq := make([][]float32, tokens)
		for i := range tokens {
			off := (b*tokens + i) * hidden
			seq[i] = t.Data[off : off+hidden : off+hidden]
		}
		out[b] = seq
	}
	return out, nil
}
