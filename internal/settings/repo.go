package settings

import (
	"context"
	"database/sql"
	"errors"
)

const settingsColumns = `id, gemini_api_key, qa_top_k, chunk_size, chunk_overlap, search_max_results`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get returns the stored row, or Defaults when the row has not been
// written yet.
func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT ` + settingsColumns + ` FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.QATopK, &s.ChunkSize, &s.ChunkOverlap, &s.SearchMaxResults)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		INSERT INTO settings (` + settingsColumns + `, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET gemini_api_key = EXCLUDED.gemini_api_key, qa_top_k = EXCLUDED.qa_top_k, chunk_size = EXCLUDED.chunk_size,
			chunk_overlap = EXCLUDED.chunk_overlap, search_max_results = EXCLUDED.search_max_results, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.QATopK, s.ChunkSize, s.ChunkOverlap, s.SearchMaxResults)
	return err
}
