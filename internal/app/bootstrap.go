package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	wstore "paperqa/internal/adapter/weaviate"
	"paperqa/internal/config"
)

// Dependencies are the external resources the service runs against. Store
// is nil with the memory vector backend and Producer is nil when no nsqd
// is configured.
type Dependencies struct {
	DB       *sql.DB
	Store    *wstore.Store
	Producer *nsq.Producer
}

// SchemaEnsurer is satisfied by the Weaviate store.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = retry(ctx, "ping db", cfg.BootstrapRetryAttempts, retryDelay, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	deps := &Dependencies{DB: db}

	if cfg.VectorBackend == config.VectorBackendWeaviate {
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(client)
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		deps.Store = store
	}

	if cfg.NSQDHost != "" {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		producer.SetLoggerLevel(nsq.LogLevelWarning)
		deps.Producer = producer
		createTopics(ctx, cfg.NSQDHTTP, config.TopicPaperIndex)
	}

	return deps, nil
}

func (d *Dependencies) Close() {
	if d.Producer != nil {
		d.Producer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// Migrate applies every pending migration found at path (a file:// URL).
func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	return retry(ctx, "ensure weaviate schema", attempts, delay, func() error {
		return store.EnsureSchema(ctx)
	})
}

// retry runs fn up to attempts times, delay apart.
func retry(ctx context.Context, op string, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(fn, b, func(err error, next time.Duration) {
		attempt++
		slog.WarnContext(ctx, op+" failed, retrying", "attempt", attempt, "max_attempts", attempts, "next_in", next, "error", err)
	})
}

// createTopics asks nsqd to create topics up front so consumers polling
// lookupd do not fail before the first publish.
func createTopics(ctx context.Context, nsqdHTTP string, topics ...string) {
	if nsqdHTTP == "" {
		return
	}
	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		for _, topic := range topics {
			u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
			err := retry(ctx, "create nsq topic", 5, 2*time.Second, func() error {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
				if err != nil {
					return backoff.Permanent(err)
				}
				resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
				if err != nil {
					return err
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("nsqd returned %d", resp.StatusCode)
				}
				return nil
			})
			if err != nil {
				slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
				continue
			}
			slog.Info("nsq topic ready", "topic", topic)
		}
	}()
}
