package storage

import (
	"sort"

	"github.com/rhuss/plauder/pkg/embedding"
)

// DefaultSearchLimit is used when SearchOptions.Limit is unset.
const DefaultSearchLimit = 5

// Ranker keeps the best scoring chunks seen so far. Adapters that cannot
// rank in the database feed candidates through it.
type Ranker struct {
	query   []float32
	opts    SearchOptions
	results []SearchResult
}

// NewRanker returns a Ranker for query.
func NewRanker(query []float32, opts SearchOptions) *Ranker {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	return &Ranker{query: query, opts: opts}
}

// Add scores c and keeps it when it passes the minimum score.
func (r *Ranker) Add(c Chunk) {
	score := embedding.Cosine(r.query, c.Embedding)
	if score < r.opts.MinScore {
		return
	}
	r.results = append(r.results, SearchResult{Chunk: c, Score: score})
}

// Results returns the kept chunks, best first, capped at the limit.
func (r *Ranker) Results() []SearchResult {
	sort.SliceStable(r.results, func(i, j int) bool {
		if r.results[i].Score != r.results[j].Score {
			return r.results[i].Score > r.results[j].Score
		}
		return r.results[i].Chunk.ID < r.results[j].Chunk.ID
	})
	if len(r.results) > r.opts.Limit {
		r.results = r.results[:r.opts.Limit]
	}
	out := r.results
	if out == nil {
		out = []SearchResult{}
	}
	return out
}
