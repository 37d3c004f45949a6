// Package index holds the vector indexes chunks are retrieved from and the
// content-keyed cache that lets identical documents share one build.
package index

import (
	"context"

	"paperqa/internal/text"
)

// Hit is a retrieved chunk with its cosine similarity to the query.
type Hit struct {
	Chunk text.Chunk `json:"chunk"`
	Score float32    `json:"score"`
}

// Index answers nearest-neighbour queries over the chunks of one document.
// Implementations are read-only after construction and safe for concurrent
// use.
type Index interface {
	// Query returns at most k hits ordered by descending score.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Len() int
}

// Builder constructs an Index from chunks and their embeddings. chunks[i]
// is embedded by vectors[i].
type Builder interface {
	Build(ctx context.Context, key string, chunks []text.Chunk, vectors [][]float32) (Index, error)
}

// Loader is implemented by builders backed by persistent storage, so an
// index built by another process can be reused without re-embedding. Load
// reports a hit only when exactly want chunks are stored under key.
type Loader interface {
	Load(ctx context.Context, key string, want int) (Index, bool, error)
}

// Empty is the index of a document without chunks.
type Empty struct{}

func (Empty) Query(context.Context, []float32, int) ([]Hit, error) { return []Hit{}, nil }
func (Empty) Len() int                                             { return 0 }
