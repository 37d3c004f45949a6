package paper_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperqa/features/paper"
	"paperqa/internal/apperr"
)

var paperColumns = []string{"id", "title", "authors", "summary", "published", "url"}

func TestPostgresRepo_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := paper.NewPostgresRepo(db)
	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &paper.Paper{
		ID:        "2403.00001v1",
		Title:     "T",
		Authors:   []string{"Ada", "Grace"},
		Summary:   "S",
		Published: paper.NewDate(published),
		URL:       "http://arxiv.org/pdf/2403.00001v1",
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO papers (id, title, authors, summary, published, url) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`)).
		WithArgs(p.ID, p.Title, sqlmock.AnyArg(), "S", published, p.URL).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Save_EmptySummaryIsNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := paper.NewPostgresRepo(db)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO papers`)).
		WithArgs("p1", "T", sqlmock.AnyArg(), nil, nil, "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Save(context.Background(), &paper.Paper{ID: "p1", Title: "T"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := paper.NewPostgresRepo(db)
	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, title, authors, summary, published, url FROM papers WHERE id = $1`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(paperColumns).AddRow("p1", "T", []byte(`{Ada,Grace}`), "S", published, "u"))

	p, err := repo.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Grace"}, p.Authors)
	assert.Equal(t, "2024-03-01", p.Published.String())
	assert.Equal(t, "S", p.Summary)
}

func TestPostgresRepo_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := paper.NewPostgresRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM papers WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostgresRepo_ListByTopic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := paper.NewPostgresRepo(db)
	rows := sqlmock.NewRows(paperColumns).
		AddRow("p2", "Newer", []byte(`{}`), "about 100% graphs", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), "u2").
		AddRow("p1", "Older", []byte(`{Ada}`), nil, time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), "u1")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM papers WHERE title ILIKE $1 OR summary ILIKE $1 ORDER BY published DESC`)).
		WithArgs(`%100\% graphs%`).
		WillReturnRows(rows)

	papers, err := repo.ListByTopic(context.Background(), "100% graphs")
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "p2", papers[0].ID)
	assert.Equal(t, []string{}, papers[0].Authors)
	assert.Empty(t, papers[1].Summary)
}

func TestPostgresRepo_Count(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM papers`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := paper.NewPostgresRepo(db).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}
