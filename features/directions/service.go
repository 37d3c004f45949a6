package directions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"paperqa/features/paper"
	"paperqa/internal/apperr"
)

type PaperSearcher interface {
	Search(ctx context.Context, topic string) ([]paper.Paper, error)
}

type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

const instructions = `Please analyze the current trends and suggest 3-5 promising future research directions.
For each direction, explain:
1. The motivation
2. Potential impact
3. Technical challenges to overcome`

type Service struct {
	papers    PaperSearcher
	generator Generator
}

func NewService(papers PaperSearcher, g Generator) *Service {
	return &Service{papers: papers, generator: g}
}

// Generate suggests research directions from the latest papers on topic.
func (s *Service) Generate(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", apperr.Validation("topic is required")
	}

	papers, err := s.papers.Search(ctx, topic)
	if err != nil {
		return "", err
	}
	if len(papers) == 0 {
		return "", apperr.NotFound(fmt.Sprintf("no papers found for topic %q", topic))
	}

	out, err := s.generator.Generate(ctx, "", BuildPrompt(papers))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", apperr.External("future directions", err)
	}

	slog.InfoContext(ctx, "future directions generated", "topic", topic, "papers", len(papers))
	return strings.TrimSpace(out), nil
}

func BuildPrompt(papers []paper.Paper) string {
	var sb strings.Builder
	sb.WriteString("Based on these recent research papers:\n")
	for _, p := range papers {
		fmt.Fprintf(&sb, "Title: %s\nSummary: %s\n\n", p.Title, p.Summary)
	}
	sb.WriteString(instructions)
	return sb.String()
}
