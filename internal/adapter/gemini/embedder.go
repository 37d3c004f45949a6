package gemini

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultEmbeddingModel = "gemini-embedding-001"

var ErrEmptyEmbedding = errors.New("empty embedding received")

type DynamicEmbedder struct {
	pool  *clientPool
	model string
}

func NewDynamicEmbedder(svc SettingsReader, model string, opts ...option.ClientOption) *DynamicEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &DynamicEmbedder{
		pool:  &clientPool{settings: svc, clientOpts: opts},
		model: model,
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.pool.get(ctx)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return res.Embedding.Values, nil
}

func (e *DynamicEmbedder) Close() error { return e.pool.Close() }
