package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"paperqa/internal/app"
	"paperqa/internal/config"
	"paperqa/internal/middleware"
	"paperqa/internal/rag"
)

var settingsQuery = regexp.QuoteMeta(`SELECT id, gemini_api_key, qa_top_k, chunk_size, chunk_overlap, search_max_results FROM settings WHERE id = 1`)

func testConfig() *config.Config {
	return &config.Config{
		VectorBackend:       config.VectorBackendMemory,
		EmbeddingModel:      "test-embedding",
		GenerationModel:     "test-generation",
		ArxivURL:            "http://127.0.0.1:0/api/query",
		ExternalConcurrency: 2,
		ExternalTimeout:     5 * time.Second,
		ExternalMaxRetries:  0,
		IndexCacheSize:      4,
		ServerPort:          0,
	}
}

func newTestApp(t *testing.T, opts ...app.Option) (*app.App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]app.Option{app.WithQueryLogger(rag.NewQueryLogger(io.Discard))}, opts...)
	a, err := app.New(context.Background(), testConfig(), &app.Dependencies{DB: db}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, mock
}

func settingsRow(key string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "gemini_api_key", "qa_top_k", "chunk_size", "chunk_overlap", "search_max_results"}).
		AddRow(1, key, 3, 1000, 200, 10)
}

func TestNew_RequiresDatabase(t *testing.T) {
	_, err := app.New(context.Background(), testConfig(), &app.Dependencies{})
	assert.Error(t, err)

	_, err = app.New(context.Background(), testConfig(), nil)
	assert.Error(t, err)
}

func TestNew_SeedsAPIKeyFromConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(settingsQuery).WillReturnRows(settingsRow(""))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO settings`)).
		WithArgs("env-key", 3, 1000, 200, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cfg := testConfig()
	cfg.GeminiAPIKey = "env-key"
	a, err := app.New(context.Background(), cfg, &app.Dependencies{DB: db}, app.WithQueryLogger(rag.NewQueryLogger(io.Discard)))
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoutes_Health(t *testing.T) {
	a, _ := newTestApp(t)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRoutes_Preflight(t *testing.T) {
	a, _ := newTestApp(t)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/qa", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(middleware.CorrelationHeader))
}

func TestRoutes_SearchRejectsBlankTopic(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"topic":"   "}`))
	req.Header.Set(middleware.CorrelationHeader, "corr-1")
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "corr-1", w.Header().Get(middleware.CorrelationHeader))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "corr-1", body["correlationId"])
	assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
}

func TestRoutes_QARejectsInvalidBody(t *testing.T) {
	a, _ := newTestApp(t)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/qa", strings.NewReader(`{`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"answer"`)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	a, _ := newTestApp(t)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/qa", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRoutes_Stats(t *testing.T) {
	a, mock := newTestApp(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM papers`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM failed_jobs`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"papers":7,"indexed_chunks":0,"cached_indexes":0,"failed_jobs":1}}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoutes_RetryWithoutQueue(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/4f6c2a9e-0d5b-4c8e-9a51-7b3e2f1d6c40/retry", nil)
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRoutes_QAAnswersFromContext(t *testing.T) {
	prompts := make(chan string, 1)
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "embedContent") {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{"values": []float32{0.3, 0.4, 0.5}},
			})
			return
		}
		var body bytes.Buffer
		body.ReadFrom(r.Body)
		select {
		case prompts <- body.String():
		default:
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{
					"role":  "model",
					"parts": []map[string]string{{"text": "  Attention is all you need.  "}},
				},
			}},
		})
	}))
	defer gemini.Close()

	var qaLog bytes.Buffer
	a, mock := newTestApp(t,
		app.WithGeminiOptions(option.WithEndpoint(gemini.URL)),
		app.WithQueryLogger(rag.NewQueryLogger(&qaLog)),
	)
	// One read for the QA knobs, then one per Gemini call.
	for i := 0; i < 8; i++ {
		mock.ExpectQuery(settingsQuery).WillReturnRows(settingsRow("test-key"))
	}

	req := httptest.NewRequest(http.MethodPost, "/qa",
		strings.NewReader(`{"question":"What is the key idea?","context":"Transformers rely on self-attention."}`))
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"answer":"Attention is all you need."}`, w.Body.String())
	assert.Contains(t, <-prompts, "Transformers rely on self-attention.")
	assert.Contains(t, qaLog.String(), `"state":"done"`)
}

func TestApp_CloseReleasesQueryLog(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	cfg.QueryLogPath = filepath.Join(t.TempDir(), "logs", "qa.log")

	a, err := app.New(context.Background(), cfg, &app.Dependencies{DB: db})
	require.NoError(t, err)
	assert.FileExists(t, cfg.QueryLogPath)

	require.NoError(t, a.Close())
	a.Orchestrator.Answer(context.Background(), rag.Request{Question: " "})

	raw, err := os.ReadFile(cfg.QueryLogPath)
	require.NoError(t, err)
	assert.Empty(t, raw)
}
