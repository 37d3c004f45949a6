package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paperqa/internal/index"
	"paperqa/internal/rag"
	"paperqa/internal/text"
)

func buildIndex(t *testing.T, e rag.Embedder, texts ...string) index.Index {
	t.Helper()
	chunks := make([]text.Chunk, len(texts))
	vectors := make([][]float32, len(texts))
	for i, s := range texts {
		chunks[i] = text.Chunk{Text: s, Position: i}
		v, err := e.Embed(context.Background(), s)
		require.NoError(t, err)
		vectors[i] = v
	}
	idx, err := index.NewMemory(chunks, vectors)
	require.NoError(t, err)
	return idx
}

func TestRetriever_DefaultsToThree(t *testing.T) {
	emb := &wordEmbedder{}
	idx := buildIndex(t, emb, "alpha beta", "gamma delta", "alpha gamma", "epsilon", "beta delta")

	texts, err := rag.NewRetriever(emb).Retrieve(context.Background(), idx, "alpha", 0)
	require.NoError(t, err)
	assert.Len(t, texts, 3)
	assert.True(t, strings.Contains(texts[0], "alpha"))
}

func TestRetriever_FewerChunksThanK(t *testing.T) {
	emb := &wordEmbedder{}
	idx := buildIndex(t, emb, "only chunk")

	texts, err := rag.NewRetriever(emb).Retrieve(context.Background(), idx, "chunk", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"only chunk"}, texts)
}

func TestRetriever_EmptyIndexSkipsEmbedding(t *testing.T) {
	emb := &wordEmbedder{}

	texts, err := rag.NewRetriever(emb).Retrieve(context.Background(), index.Empty{}, "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, texts)
	assert.NotNil(t, texts)
	assert.Equal(t, 0, emb.total())
}

func TestRetriever_EmbedError(t *testing.T) {
	emb := &wordEmbedder{}
	idx := buildIndex(t, emb, "a b")
	emb.err = errors.New("down")

	_, err := rag.NewRetriever(emb).Retrieve(context.Background(), idx, "a", 3)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	p := rag.BuildPrompt("What is X?", []string{"first chunk", "second chunk"})

	assert.Equal(t, "What is X?", p.User)
	assert.Contains(t, p.System, "If you don't know the answer, say that you don't know.")
	assert.Contains(t, p.System, "Base your answer only on the provided context.")
	assert.Less(t, strings.Index(p.System, "first chunk"), strings.Index(p.System, "second chunk"))
	assert.NotContains(t, p.System, rag.NoContext)

	empty := rag.BuildPrompt("What is X?", nil)
	assert.Contains(t, empty.System, rag.NoContext)
}

func TestComposer_PassesPromptToGenerator(t *testing.T) {
	gen := new(MockGenerator)
	want := rag.BuildPrompt("q", []string{"c"})
	gen.On("Generate", mock.Anything, want.System, want.User).Return("a", nil)

	out, err := rag.NewComposer(gen).ComposeAndGenerate(context.Background(), "q", []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, "a", out)
	gen.AssertExpectations(t)
}
