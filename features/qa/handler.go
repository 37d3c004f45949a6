package qa

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"paperqa/internal/apperr"
	"paperqa/internal/middleware"
	"paperqa/internal/rag"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Ask handles POST /qa. Failures keep the {answer} shape so simple clients
// can show the message, and add the usual error envelope.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var q Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		h.writeResult(w, r, rag.Result{State: rag.Failed, FailedAt: rag.Idle, Err: apperr.Validation("invalid request body")})
		return
	}

	res := h.service.Ask(ctx, q)
	if !res.OK() {
		slog.ErrorContext(ctx, "question not answered", "failed_at", res.FailedAt.String(), "error", res.Err)
	}
	h.writeResult(w, r, res)
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, res rag.Result) {
	w.Header().Set("Content-Type", "application/json")

	if res.OK() {
		if err := json.NewEncoder(w).Encode(map[string]string{"answer": res.Answer}); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
		}
		return
	}

	kind := res.Kind()
	w.WriteHeader(apperr.Status(kind))
	resp := map[string]interface{}{
		"answer": res.Message(),
		"error": map[string]string{
			"code":    apperr.Code(kind),
			"message": apperr.SafeMessage(res.Err),
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
