// Package main is the entry point for the paperqa service and CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"paperqa/features/qa"
	"paperqa/internal/app"
	"paperqa/internal/config"
	"paperqa/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "paperqa",
	Short: "Research assistant over recent arXiv papers",
	Long: `paperqa searches arXiv for recent papers on a topic, answers questions
grounded in a paper abstract and proposes future research directions.

Without a subcommand it runs the HTTP API (same as "paperqa serve").`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the index worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the paper index worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkWorkerConfig(cfg); err != nil {
			return err
		}
		return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app.App) error {
			return a.RunWorker(ctx)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <topic>",
	Short: "Search arXiv for the most recent papers on a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app.App) error {
			papers, err := a.Papers.Search(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(papers)
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from a context file or a stored paper",
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		contextFile, _ := cmd.Flags().GetString("context-file")
		paperID, _ := cmd.Flags().GetString("paper-id")

		q := qa.Query{Question: question, PaperID: paperID}
		if contextFile != "" {
			b, err := os.ReadFile(contextFile) // #nosec G304 -- path is supplied by the operator
			if err != nil {
				return fmt.Errorf("read context file: %w", err)
			}
			q.Context = string(b)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app.App) error {
			res := a.QA.Ask(ctx, q)
			fmt.Fprintln(cmd.OutOrStdout(), res.Message())
			if !res.OK() {
				return res.Err
			}
			return nil
		})
	},
}

var directionsCmd = &cobra.Command{
	Use:   "directions <topic>",
	Short: "Propose future research directions for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app.App) error {
			out, err := a.Directions.Generate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func init() {
	askCmd.Flags().String("question", "", "question to answer")
	askCmd.Flags().String("context-file", "", "file whose contents are the context")
	askCmd.Flags().String("paper-id", "", "answer from a stored paper's summary instead of a file")
	_ = askCmd.MarkFlagRequired("question")
	askCmd.MarkFlagsMutuallyExclusive("context-file", "paper-id")

	rootCmd.AddCommand(serveCmd, workerCmd, searchCmd, askCmd, directionsCmd)
}

// checkWorkerConfig rejects standalone worker setups whose indexes no API
// process could read.
func checkWorkerConfig(cfg *config.Config) error {
	if cfg.NSQDHost == "" && cfg.NSQLookupd == "" {
		return errors.New("worker needs NSQD_HOST or NSQ_LOOKUPD")
	}
	if cfg.VectorBackend != config.VectorBackendWeaviate {
		return fmt.Errorf("standalone worker needs VECTOR_BACKEND=%s; with %q its indexes stay in this process (use \"serve\" to run the worker next to the API)",
			config.VectorBackendWeaviate, cfg.VectorBackend)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(logger.New(os.Stdout, cfg.LogLevel))
	return cfg, nil
}

// withApp bootstraps dependencies, wires the application and hands it to fn.
func withApp(ctx context.Context, cfg *config.Config, fn func(ctx context.Context, a *app.App) error) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// run serves the API until ctx is done. The index worker runs alongside it
// when enabled and a queue is configured.
func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.EnableAPI {
		g.Go(func() error { return a.Run(ctx) })
	}
	if cfg.EnableIndexWorker && deps.Producer != nil {
		g.Go(func() error { return a.RunWorker(ctx) })
	}
	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("paperqa failed", "error", err)
		stop()
		os.Exit(1)
	}
}
