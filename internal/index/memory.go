package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"paperqa/internal/text"
)

var (
	ErrLengthMismatch    = errors.New("chunks and vectors length mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// MemoryBuilder builds brute-force in-process indexes.
type MemoryBuilder struct{}

func NewMemoryBuilder() *MemoryBuilder { return &MemoryBuilder{} }

func (b *MemoryBuilder) Build(ctx context.Context, key string, chunks []text.Chunk, vectors [][]float32) (Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewMemory(chunks, vectors)
}

// Memory is an exact cosine-similarity index. Vectors are L2-normalised at
// build time so a query is a dot product.
type Memory struct {
	dimension int
	chunks    []text.Chunk
	vectors   [][]float32
}

func NewMemory(chunks []text.Chunk, vectors [][]float32) (*Memory, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}
	m := &Memory{
		chunks:  make([]text.Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
	}
	copy(m.chunks, chunks)
	for i, v := range vectors {
		if i == 0 {
			m.dimension = len(v)
		}
		if len(v) == 0 || len(v) != m.dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), m.dimension)
		}
		m.vectors[i] = normalize(v)
	}
	return m, nil
}

func (m *Memory) Len() int { return len(m.chunks) }

func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.chunks) == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(vector), m.dimension)
	}

	q := normalize(vector)
	hits := make([]Hit, len(m.chunks))
	for i, v := range m.vectors {
		hits[i] = Hit{Chunk: m.chunks[i], Score: dot(q, v)}
	}
	SortHits(hits)

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// SortHits orders hits by descending score, then by chunk position so equal
// scores come back in document order.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Position < hits[j].Chunk.Position
	})
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
