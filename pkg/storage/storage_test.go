package storage

import (
	"slices"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(in, out) {
		t.Errorf("DecodeVector = %v, want %v", out, in)
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("odd length blob accepted")
	}
}

func TestRanker(t *testing.T) {
	r := NewRanker([]float32{1, 0}, SearchOptions{Limit: 2, MinScore: 0.1})
	r.Add(Chunk{ID: "same", Embedding: []float32{2, 0}})
	r.Add(Chunk{ID: "close", Embedding: []float32{1, 1}})
	r.Add(Chunk{ID: "orthogonal", Embedding: []float32{0, 1}})
	r.Add(Chunk{ID: "near", Embedding: []float32{1, 0.1}})

	got := r.Results()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Chunk.ID != "same" || got[1].Chunk.ID != "near" {
		t.Errorf("order = %s, %s", got[0].Chunk.ID, got[1].Chunk.ID)
	}
}

func TestRankerEmpty(t *testing.T) {
	got := NewRanker([]float32{1}, SearchOptions{}).Results()
	if got == nil || len(got) != 0 {
		t.Errorf("Results = %#v, want empty slice", got)
	}
}
