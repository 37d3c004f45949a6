package settings

import (
	"context"
	"log/slog"
	"strings"

	"paperqa/internal/apperr"
)

const (
	DefaultQATopK           = 3
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultSearchMaxResults = 10
)

// Settings are the runtime-tunable knobs persisted in the single settings row.
type Settings struct {
	ID               int    `json:"-"`
	GeminiAPIKey     string `json:"gemini_api_key"`
	QATopK           int    `json:"qa_top_k"`
	ChunkSize        int    `json:"chunk_size"`
	ChunkOverlap     int    `json:"chunk_overlap"`
	SearchMaxResults int    `json:"search_max_results"`
}

func Defaults() *Settings {
	return &Settings{
		ID:               1,
		QATopK:           DefaultQATopK,
		ChunkSize:        DefaultChunkSize,
		ChunkOverlap:     DefaultChunkOverlap,
		SearchMaxResults: DefaultSearchMaxResults,
	}
}

func (s *Settings) Validate() error {
	switch {
	case s.QATopK <= 0:
		return apperr.Validation("qa_top_k must be positive")
	case s.ChunkSize <= 0:
		return apperr.Validation("chunk_size must be positive")
	case s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize:
		return apperr.Validation("chunk_overlap must be in [0, chunk_size)")
	case s.SearchMaxResults <= 0:
		return apperr.Validation("search_max_results must be positive")
	}
	return nil
}

const maskPrefix = "****"

// Public is the settings representation served over HTTP. Only the last
// four characters of the API key are shown.
type Public struct {
	GeminiAPIKey     string `json:"gemini_api_key"`
	GeminiAPIKeySet  bool   `json:"gemini_api_key_set"`
	QATopK           int    `json:"qa_top_k"`
	ChunkSize        int    `json:"chunk_size"`
	ChunkOverlap     int    `json:"chunk_overlap"`
	SearchMaxResults int    `json:"search_max_results"`
}

func (s *Settings) Public() Public {
	return Public{
		GeminiAPIKey:     maskKey(s.GeminiAPIKey),
		GeminiAPIKeySet:  s.GeminiAPIKey != "",
		QATopK:           s.QATopK,
		ChunkSize:        s.ChunkSize,
		ChunkOverlap:     s.ChunkOverlap,
		SearchMaxResults: s.SearchMaxResults,
	}
}

func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return maskPrefix
	default:
		return maskPrefix + key[len(key)-4:]
	}
}

// Patch is a partial update; nil fields keep the stored value. A masked
// key, as served by Public, also keeps the stored key so clients can send
// back what they read.
type Patch struct {
	GeminiAPIKey     *string `json:"gemini_api_key"`
	QATopK           *int    `json:"qa_top_k"`
	ChunkSize        *int    `json:"chunk_size"`
	ChunkOverlap     *int    `json:"chunk_overlap"`
	SearchMaxResults *int    `json:"search_max_results"`
}

func (p Patch) apply(s *Settings) {
	if p.GeminiAPIKey != nil && !strings.HasPrefix(*p.GeminiAPIKey, maskPrefix) {
		s.GeminiAPIKey = strings.TrimSpace(*p.GeminiAPIKey)
	}
	if p.QATopK != nil {
		s.QATopK = *p.QATopK
	}
	if p.ChunkSize != nil {
		s.ChunkSize = *p.ChunkSize
	}
	if p.ChunkOverlap != nil {
		s.ChunkOverlap = *p.ChunkOverlap
	}
	if p.SearchMaxResults != nil {
		s.SearchMaxResults = *p.SearchMaxResults
	}
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// Patch applies p over the stored settings and persists the result.
func (s *Service) Patch(ctx context.Context, p Patch) (*Settings, error) {
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := *cur
	p.apply(&next)
	if err := s.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// SeedAPIKey stores key as the Gemini API key unless one is already set.
func (s *Service) SeedAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return err
	}
	if cur.GeminiAPIKey != "" {
		return nil
	}
	cur.GeminiAPIKey = key
	if err := s.repo.Update(ctx, cur); err != nil {
		return err
	}
	slog.InfoContext(ctx, "seeded gemini api key from environment")
	return nil
}
