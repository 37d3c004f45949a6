package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"google.golang.org/api/option"

	"paperqa/features/directions"
	"paperqa/features/job"
	"paperqa/features/mcp"
	"paperqa/features/paper"
	"paperqa/features/qa"
	"paperqa/features/stats"
	"paperqa/internal/adapter/arxiv"
	"paperqa/internal/adapter/gemini"
	"paperqa/internal/adapter/resilient"
	"paperqa/internal/config"
	"paperqa/internal/index"
	"paperqa/internal/middleware"
	"paperqa/internal/rag"
	"paperqa/internal/settings"
	"paperqa/internal/worker"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler       http.Handler
	Settings      *settings.Service
	Papers        *paper.Service
	QA            *qa.Service
	Directions    *directions.Service
	Orchestrator  *rag.Orchestrator
	IndexConsumer *worker.IndexConsumer

	cfg       *config.Config
	embedder  *gemini.DynamicEmbedder
	generator *gemini.DynamicGenerator
	queryLog  *rag.QueryLogger // nil when supplied by the caller
}

type options struct {
	geminiOpts []option.ClientOption
	arxivOpts  []arxiv.Option
	queryLog   *rag.QueryLogger
}

type Option func(*options)

// WithGeminiOptions passes client options (endpoint, HTTP client) to every
// Gemini client the service creates.
func WithGeminiOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.geminiOpts = append(o.geminiOpts, opts...) }
}

func WithArxivOptions(opts ...arxiv.Option) Option {
	return func(o *options) { o.arxivOpts = append(o.arxivOpts, opts...) }
}

func WithQueryLogger(l *rag.QueryLogger) Option {
	return func(o *options) { o.queryLog = l }
}

// New wires every feature against deps. It performs no network calls apart
// from seeding the Gemini key into settings.
func New(ctx context.Context, cfg *config.Config, deps *Dependencies, opts ...Option) (*App, error) {
	if deps == nil || deps.DB == nil {
		return nil, errors.New("app: database is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var pub TaskPublisher
	if deps.Producer != nil {
		pub = deps.Producer
	}

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(deps.DB))
	if cfg.GeminiAPIKey != "" {
		if err := settingsService.SeedAPIKey(ctx, cfg.GeminiAPIKey); err != nil {
			slog.WarnContext(ctx, "failed to seed gemini api key", "error", err)
		}
	}
	settingsHandler := settings.NewHandler(settingsService)

	// Adapters: Gemini behind the shared outbound limiter
	limiter := resilient.NewLimiter(cfg.ExternalConcurrency, cfg.ExternalTimeout, cfg.ExternalMaxRetries,
		resilient.WithPermanent(gemini.ErrNotConfigured, gemini.ErrEmptyEmbedding))
	embedder := gemini.NewDynamicEmbedder(settingsService, cfg.EmbeddingModel, o.geminiOpts...)
	generator := gemini.NewDynamicGenerator(settingsService, cfg.GenerationModel, o.geminiOpts...)
	safeEmbedder := resilient.NewEmbedder(embedder, limiter)
	safeGenerator := resilient.NewGenerator(generator, limiter)

	// QA pipeline
	var builder index.Builder = index.NewMemoryBuilder()
	var chunkCounter stats.VectorStore
	if deps.Store != nil {
		builder = deps.Store
		chunkCounter = deps.Store
	}
	cache := index.NewCache(cfg.IndexCacheSize)
	cache.SetBuildTimeout(cfg.IndexBuildTimeout)

	queryLog := o.queryLog
	var ownedLog *rag.QueryLogger
	if queryLog == nil {
		l, err := rag.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			slog.WarnContext(ctx, "failed to create qa log, falling back to stdout", "error", err)
			l = rag.NewQueryLogger(os.Stdout)
		}
		queryLog = l
		ownedLog = l
	}
	orchestrator := rag.NewOrchestrator(safeEmbedder, safeGenerator, builder, cache,
		rag.WithQueryLogger(queryLog), rag.WithNamespace(cfg.EmbeddingModel))

	// Feature: Paper
	arxivClient := arxiv.NewClient(cfg.ArxivURL, cfg.ArxivMinInterval, o.arxivOpts...)
	paperRepo := paper.NewPostgresRepo(deps.DB)
	paperService := paper.NewService(arxivClient, paperRepo, settingsService, pub)
	paperHandler := paper.NewHandler(paperService)

	// Feature: QA
	qaService := qa.NewService(orchestrator, paperService, settingsService)
	qaHandler := qa.NewHandler(qaService)

	// Feature: Future directions
	directionsService := directions.NewService(paperService, safeGenerator)
	directionsHandler := directions.NewHandler(directionsService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	jobHandler := job.NewHandler(job.NewService(jobRepo, pub, slog.Default()))

	// Feature: Stats
	statsHandler := stats.NewHandler(paperRepo, jobRepo, chunkCounter, cache)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(paperService, qaService, directionsService)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(middleware.CORS(h)))
	}

	route("POST /search", paperHandler.Search)
	route("GET /papers", paperHandler.List)
	route("GET /papers/{id...}", paperHandler.Get)
	route("POST /qa", qaHandler.Ask)
	route("POST /future-directions", directionsHandler.Generate)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /jobs/failed", jobHandler.List)
	route("POST /jobs/{id}/retry", jobHandler.Retry)

	route("GET /stats", statsHandler.GetStats)

	route("POST /mcp", mcpHandler.ServeHTTP)
	route("GET /mcp/sse", mcpHandler.HandleSSE)
	route("POST /mcp/messages", mcpHandler.HandleMessage)

	// Preflight for every route; CORS answers before the no-op runs.
	mux.Handle("OPTIONS /", middleware.CorrelationID(middleware.CORS(func(http.ResponseWriter, *http.Request) {})))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:       mux,
		Settings:      settingsService,
		Papers:        paperService,
		QA:            qaService,
		Directions:    directionsService,
		Orchestrator:  orchestrator,
		IndexConsumer: worker.NewIndexConsumer(orchestrator, settingsService, jobRepo, worker.DefaultMaxAttempts, 0),
		cfg:           cfg,
		embedder:      embedder,
		generator:     generator,
		queryLog:      ownedLog,
	}, nil
}

// Run serves HTTP on the configured port until ctx is done.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunWorker consumes paper.index tasks until ctx is done.
func (a *App) RunWorker(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	// The consumer records exhausted tasks itself on the last attempt.
	nsqCfg.MaxAttempts = worker.DefaultMaxAttempts + 1
	nsqCfg.MaxInFlight = max(1, a.cfg.ExternalConcurrency)

	consumer, err := nsq.NewConsumer(config.TopicPaperIndex, config.ChannelIndexWorker, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(a.IndexConsumer, max(1, a.cfg.ExternalConcurrency))

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("index worker connected", "topic", config.TopicPaperIndex, "channel", config.ChannelIndexWorker)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	slog.Info("index worker stopped")
	return nil
}

func (a *App) Close() error {
	var logErr error
	if a.queryLog != nil {
		logErr = a.queryLog.Close()
	}
	return errors.Join(a.embedder.Close(), a.generator.Close(), logErr)
}
