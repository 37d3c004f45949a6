package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"paperqa/internal/apperr"
	"paperqa/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeSettings(r.Context(), w, s)
}

// UpdateSettings handles PUT /settings. Fields missing from the body keep
// their stored values.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(ctx, w, apperr.Validation("invalid request body"))
		return
	}
	s, err := h.svc.Patch(ctx, p)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "settings updated", "qa_top_k", s.QATopK, "chunk_size", s.ChunkSize,
		"chunk_overlap", s.ChunkOverlap, "search_max_results", s.SearchMaxResults)
	h.writeSettings(ctx, w, s)
}

func (h *Handler) writeSettings(ctx context.Context, w http.ResponseWriter, s *Settings) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": s.Public()}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "settings request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    apperr.Code(err),
			"message": apperr.SafeMessage(err),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	json.NewEncoder(w).Encode(resp)
}
