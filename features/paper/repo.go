package paper

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"paperqa/internal/apperr"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save inserts the paper. A paper that is already stored is left untouched.
func (r *PostgresRepo) Save(ctx context.Context, p *Paper) error {
	query := `INSERT INTO papers (id, title, authors, summary, published, url) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Title, pq.Array(p.Authors), nullString(p.Summary), p.Published, p.URL)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Paper, error) {
	query := `SELECT id, title, authors, summary, published, url FROM papers WHERE id = $1`
	p, err := scanPaper(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("paper not found")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepo) ListByTopic(ctx context.Context, topic string) ([]Paper, error) {
	query := `SELECT id, title, authors, summary, published, url FROM papers WHERE title ILIKE $1 OR summary ILIKE $1 ORDER BY published DESC NULLS LAST, id`
	rows, err := r.db.QueryContext(ctx, query, "%"+escapeLike(topic)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (*Paper, error) {
	p := &Paper{}
	var summary sql.NullString
	if err := row.Scan(&p.ID, &p.Title, pq.Array(&p.Authors), &summary, &p.Published, &p.URL); err != nil {
		return nil, err
	}
	p.Summary = summary.String
	if p.Authors == nil {
		p.Authors = []string{}
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
