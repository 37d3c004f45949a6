package rag

import (
	"context"
	"fmt"
	"strings"
)

// NoContext stands in for the context block when nothing was retrieved.
const NoContext = "(no context available)"

const systemTemplate = `You are a research paper analysis assistant.
Use the following pieces of retrieved context to answer the question about the research paper.
If you don't know the answer, say that you don't know.
Base your answer only on the provided context.

Context:
%s`

type Prompt struct {
	System string
	User   string
}

// BuildPrompt places the retrieved chunks, in order, inside the grounding
// instruction and uses the question as the user turn.
func BuildPrompt(question string, chunks []string) Prompt {
	block := NoContext
	if len(chunks) > 0 {
		block = strings.Join(chunks, "\n\n")
	}
	return Prompt{
		System: fmt.Sprintf(systemTemplate, block),
		User:   question,
	}
}

type Composer struct {
	generator Generator
}

func NewComposer(g Generator) *Composer {
	return &Composer{generator: g}
}

func (c *Composer) ComposeAndGenerate(ctx context.Context, question string, chunks []string) (string, error) {
	p := BuildPrompt(question, chunks)
	return c.generator.Generate(ctx, p.System, p.User)
}
