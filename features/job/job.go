package job

import (
	"encoding/json"
	"strconv"
	"time"

	"paperqa/internal/apperr"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Job is a paper.index task that exhausted its delivery attempts.
type Job struct {
	ID        string          `json:"id"`
	PaperID   string          `json:"paper_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Page is a window over failed jobs, newest first.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePage reads the limit and offset query values. Blank values select
// the first DefaultPageSize jobs; limit is capped at MaxPageSize.
func ParsePage(limit, offset string) (Page, error) {
	p := Page{Limit: DefaultPageSize}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return Page{}, apperr.Validation("limit must be a positive integer")
		}
		p.Limit = min(n, MaxPageSize)
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return Page{}, apperr.Validation("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	return p, nil
}
