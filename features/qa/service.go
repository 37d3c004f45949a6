package qa

import (
	"context"
	"log/slog"
	"strings"

	"paperqa/features/paper"
	"paperqa/internal/apperr"
	"paperqa/internal/rag"
	"paperqa/internal/settings"
)

type Answerer interface {
	Answer(ctx context.Context, req rag.Request) rag.Result
}

type PaperLookup interface {
	Get(ctx context.Context, id string) (*paper.Paper, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Query names exactly one grounding source: Context or PaperID.
type Query struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	PaperID  string `json:"paper_id"`
}

type Service struct {
	answerer Answerer
	papers   PaperLookup
	settings SettingsReader
}

func NewService(a Answerer, papers PaperLookup, s SettingsReader) *Service {
	return &Service{answerer: a, papers: papers, settings: s}
}

func (s *Service) Ask(ctx context.Context, q Query) rag.Result {
	document, err := s.document(ctx, q)
	if err != nil {
		return rag.Result{State: rag.Failed, FailedAt: rag.Idle, Err: err}
	}

	req := rag.Request{Question: q.Question, Document: document}
	if st, err := s.settings.Get(ctx); err != nil {
		slog.WarnContext(ctx, "failed to read settings, using default qa parameters", "error", err)
	} else {
		req.TopK, req.ChunkSize, req.ChunkOverlap = st.QATopK, st.ChunkSize, st.ChunkOverlap
	}
	return s.answerer.Answer(ctx, req)
}

func (s *Service) document(ctx context.Context, q Query) (string, error) {
	paperID := strings.TrimSpace(q.PaperID)
	if paperID == "" {
		return q.Context, nil
	}
	if strings.TrimSpace(q.Context) != "" {
		return "", apperr.Validation("provide either context or paper_id, not both")
	}
	if strings.TrimSpace(q.Question) == "" {
		return "", apperr.Validation("question must not be empty")
	}

	p, err := s.papers.Get(ctx, paperID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Summary) == "" {
		return "", apperr.Validation("paper " + p.ID + " is missing a summary")
	}
	return p.Summary, nil
}
