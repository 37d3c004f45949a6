// Package rag answers questions about a document by retrieval-augmented
// generation: the document is chunked and indexed, the chunks closest to the
// question are retrieved and a model answers from them alone.
package rag

import "context"

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}
