package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"

	"paperqa/features/job"
	"paperqa/internal/apperr"
	"paperqa/internal/middleware"
	"paperqa/internal/settings"
)

const (
	HandlerIndexWorker = "index-worker"

	DefaultMaxAttempts = 5
)

// IndexConsumer warms the index cache for papers found by a search.
type IndexConsumer struct {
	warmer      Warmer
	settings    SettingsReader
	jobs        FailedJobStore
	maxAttempts uint16
	timeout     time.Duration
}

func NewIndexConsumer(w Warmer, s SettingsReader, j FailedJobStore, maxAttempts uint16, timeout time.Duration) *IndexConsumer {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &IndexConsumer{warmer: w, settings: s, jobs: j, maxAttempts: maxAttempts, timeout: timeout}
}

func (h *IndexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IndexPaperPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	if strings.TrimSpace(payload.Summary) == "" {
		slog.WarnContext(ctx, "skipping paper without summary", "paper_id", payload.PaperID)
		return nil
	}

	size, overlap := settings.DefaultChunkSize, settings.DefaultChunkOverlap
	if s, err := h.settings.Get(ctx); err != nil {
		slog.WarnContext(ctx, "failed to read settings, using default chunking", "error", err)
	} else {
		size, overlap = s.ChunkSize, s.ChunkOverlap
	}

	warmCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.warmer.Warm(warmCtx, payload.Summary, size, overlap)
	if err == nil {
		slog.InfoContext(ctx, "paper indexed", "paper_id", payload.PaperID)
		return nil
	}

	if errors.Is(err, apperr.ErrValidation) {
		slog.WarnContext(ctx, "dropping unindexable paper", "paper_id", payload.PaperID, "error", err)
		return nil
	}

	if m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "indexing failed, requeueing", "paper_id", payload.PaperID, "attempt", m.Attempts, "error", err)
		return err // Retry
	}

	failedJob := &job.Job{
		PaperID: payload.PaperID,
		Handler: HandlerIndexWorker,
		Payload: json.RawMessage(m.Body),
		Error:   err.Error(),
	}
	if saveErr := h.jobs.Save(ctx, failedJob); saveErr != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "paper_id", payload.PaperID, "error", saveErr)
		return nil
	}
	slog.ErrorContext(ctx, "indexing gave up, saved failed job", "paper_id", payload.PaperID, "job_id", failedJob.ID, "error", err)
	return nil
}
