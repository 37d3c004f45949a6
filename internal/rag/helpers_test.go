package rag_test

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/stretchr/testify/mock"
)

const dim = 64

// wordEmbedder maps text to a bag-of-words vector so similar wording gives
// similar vectors.
type wordEmbedder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, dim)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%dim]++
	}
	return v, nil
}

func (e *wordEmbedder) count(exclude string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c != exclude {
			n++
		}
	}
	return n
}

func (e *wordEmbedder) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

const paperText = `Transformers rely on attention layers to model language and long range dependencies.

Photosynthesis converts sunlight water and carbon dioxide into glucose inside chloroplasts.

Black holes bend spacetime so strongly that light cannot escape the event horizon.

Reinforcement learning agents maximise cumulative reward through trial and error.`
