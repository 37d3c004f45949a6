package resilient

import "context"

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

type ResilientEmbedder struct {
	next    Embedder
	limiter *Limiter
}

func NewEmbedder(next Embedder, limiter *Limiter) *ResilientEmbedder {
	return &ResilientEmbedder{next: next, limiter: limiter}
}

func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.limiter.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := e.next.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type ResilientGenerator struct {
	next    Generator
	limiter *Limiter
}

func NewGenerator(next Generator, limiter *Limiter) *ResilientGenerator {
	return &ResilientGenerator{next: next, limiter: limiter}
}

func (g *ResilientGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	var out string
	err := g.limiter.Do(ctx, "generate", func(ctx context.Context) error {
		v, err := g.next.Generate(ctx, system, user)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
