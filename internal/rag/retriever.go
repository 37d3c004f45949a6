package rag

import (
	"context"

	"paperqa/internal/index"
)

const DefaultTopK = 3

type Retriever struct {
	embedder Embedder
}

func NewRetriever(e Embedder) *Retriever {
	return &Retriever{embedder: e}
}

// Retrieve returns the texts of the k chunks most similar to question, most
// similar first. An empty index yields an empty slice without embedding the
// question.
func (r *Retriever) Retrieve(ctx context.Context, idx index.Index, question string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if idx == nil || idx.Len() == 0 {
		return []string{}, nil
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := idx.Query(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Chunk.Text
	}
	return texts, nil
}
