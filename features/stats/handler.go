package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"paperqa/internal/middleware"
)

type PaperRepo interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int, error)
}

type IndexCache interface {
	Len() int
}

type Handler struct {
	paperRepo   PaperRepo
	jobRepo     JobRepo
	vectorStore VectorStore
	cache       IndexCache
}

// NewHandler builds the stats endpoint. v is nil when indexes only live in
// memory; indexed_chunks is then reported as 0.
func NewHandler(p PaperRepo, j JobRepo, v VectorStore, c IndexCache) *Handler {
	return &Handler{paperRepo: p, jobRepo: j, vectorStore: v, cache: c}
}

type StatsResponse struct {
	Papers        int `json:"papers"`
	IndexedChunks int `json:"indexed_chunks"`
	CachedIndexes int `json:"cached_indexes"`
	FailedJobs    int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	var resp StatsResponse
	var err error

	if resp.Papers, err = h.paperRepo.Count(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count papers", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count papers", http.StatusInternalServerError)
		return
	}

	if resp.FailedJobs, err = h.jobRepo.Count(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	if h.vectorStore != nil {
		if resp.IndexedChunks, err = h.vectorStore.CountChunks(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "EXTERNAL_SERVICE_ERROR", "failed to count indexed chunks", http.StatusInternalServerError)
			return
		}
	}

	if h.cache != nil {
		resp.CachedIndexes = h.cache.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
