package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"paperqa/internal/adapter/arxiv"
	"paperqa/internal/apperr"
	"paperqa/internal/config"
	"paperqa/internal/middleware"
	"paperqa/internal/settings"
	"paperqa/internal/worker"
)

type Searcher interface {
	Search(ctx context.Context, topic string, max int) ([]arxiv.Entry, error)
}

type Repository interface {
	Save(ctx context.Context, p *Paper) error
	Get(ctx context.Context, id string) (*Paper, error)
	ListByTopic(ctx context.Context, topic string) ([]Paper, error)
	Count(ctx context.Context) (int, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	searcher Searcher
	repo     Repository
	settings SettingsReader
	pub      EventPublisher
}

// NewService wires the search flow. pub may be nil, in which case found
// papers are stored but not queued for indexing.
func NewService(searcher Searcher, repo Repository, settings SettingsReader, pub EventPublisher) *Service {
	return &Service{searcher: searcher, repo: repo, settings: settings, pub: pub}
}

// Search fetches the most recent papers on topic, newest first. Storing and
// queueing the results are best effort and never fail the search.
func (s *Service) Search(ctx context.Context, topic string) ([]Paper, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperr.Validation("topic is required")
	}

	max := s.maxResults(ctx)
	entries, err := s.searcher.Search(ctx, topic, max)
	if err != nil {
		return nil, err
	}

	papers := make([]Paper, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Title) == "" {
			slog.WarnContext(ctx, "skipping search entry without title", "id", e.ID)
			continue
		}
		papers = append(papers, FromEntry(e))
	}
	sort.SliceStable(papers, func(i, j int) bool {
		return papers[i].Published.After(papers[j].Published.Time)
	})
	if len(papers) > max {
		papers = papers[:max]
	}

	for i := range papers {
		if err := s.repo.Save(ctx, &papers[i]); err != nil {
			slog.WarnContext(ctx, "failed to store paper", "id", papers[i].ID, "error", err)
		}
	}
	s.enqueue(ctx, papers)

	slog.InfoContext(ctx, "papers found", "topic", topic, "count", len(papers))
	return papers, nil
}

// ListByTopic returns stored papers mentioning topic. Every returned paper
// is guaranteed to carry a summary.
func (s *Service) ListByTopic(ctx context.Context, topic string) ([]Paper, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperr.Validation("topic is required")
	}

	papers, err := s.repo.ListByTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	if len(papers) == 0 {
		return nil, apperr.NotFound(fmt.Sprintf("no papers found for topic %q", topic))
	}
	for _, p := range papers {
		if strings.TrimSpace(p.Summary) == "" {
			return nil, apperr.Validation(fmt.Sprintf("paper %s is missing a summary", p.ID))
		}
	}
	return papers, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Paper, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("paper id is required")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) maxResults(ctx context.Context) int {
	st, err := s.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to read settings, using default result limit", "error", err)
		return settings.DefaultSearchMaxResults
	}
	if st.SearchMaxResults <= 0 {
		return settings.DefaultSearchMaxResults
	}
	return st.SearchMaxResults
}

func (s *Service) enqueue(ctx context.Context, papers []Paper) {
	if s.pub == nil {
		return
	}
	correlationID := middleware.GetCorrelationID(ctx)
	for _, p := range papers {
		if strings.TrimSpace(p.Summary) == "" {
			continue
		}
		body, err := json.Marshal(worker.IndexPaperPayload{
			PaperID:       p.ID,
			Title:         p.Title,
			Summary:       p.Summary,
			CorrelationID: correlationID,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal index task", "id", p.ID, "error", err)
			continue
		}
		if err := s.pub.Publish(config.TopicPaperIndex, body); err != nil {
			slog.WarnContext(ctx, "failed to queue paper for indexing", "id", p.ID, "error", err)
		}
	}
}
