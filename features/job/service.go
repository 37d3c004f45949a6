package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paperqa/internal/config"
)

const publishTimeout = 5 * time.Second

var ErrNoPublisher = errors.New("task queue is not configured")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context, page Page) ([]Job, error) {
	return s.repo.List(ctx, page)
}

// Retry republishes the stored payload and removes the job once the broker
// has accepted it.
func (s *Service) Retry(ctx context.Context, id string) (*Job, error) {
	if s.pub == nil {
		return nil, ErrNoPublisher
	}
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicPaperIndex, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("publish job %s: %w", id, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.logger.InfoContext(ctx, "job republished", "id", id, "paper_id", job.PaperID, "retries", job.Retries)
	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
