package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"statline/internal/catalog"
	"statline/internal/feed"
	"statline/internal/llm"
	"statline/internal/pipeline"
	"statline/internal/store"
)

type rootFlags struct {
	dbPath  string
	model   string
	feedURL string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "statline",
		Short:         "Ask natural-language questions against a sports statistics database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", "stats.db", "path to the sqlite dataset (STATLINE_PG_DSN overrides with postgres)")
	cmd.PersistentFlags().StringVar(&flags.model, "model", "gemini-2.5-flash", "Gemini model id")
	cmd.PersistentFlags().StringVar(&flags.feedURL, "feed-url", "", "live stats feed base URL (empty = single-source mode)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newAskCmd(flags))
	cmd.AddCommand(newTablesCmd(flags))
	return cmd
}

func newLogger(verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

// buildEngine wires the full pipeline from flags and environment. The
// returned cleanup closes the store, the oracle client stack, and the
// feed cache.
func buildEngine(ctx context.Context, flags *rootFlags) (*pipeline.Engine, func(), error) {
	_ = godotenv.Load()
	logger := newLogger(flags.verbose)

	db, err := store.OpenFromEnv(flags.dbPath, os.Getenv("STATLINE_PG_DSN"))
	if err != nil {
		return nil, nil, err
	}

	base, err := llm.NewGeminiClient(ctx, flags.model)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	client := llm.Wrap(base,
		llm.Cache(256),
		llm.Retry(3, 500*time.Millisecond),
		llm.Breaker(5, 30*time.Second),
		llm.RateLimit(2, 2),
	)

	var fd *feed.Client
	feedURL := flags.feedURL
	if feedURL == "" {
		feedURL = os.Getenv("STATLINE_FEED_URL")
	}
	if feedURL != "" {
		fd = feed.New(feedURL, feed.WithLogger(logger))
	}

	cat := catalog.NewService(db, nil)
	engine := pipeline.New(client, db, cat, fd, pipeline.Config{}, logger)
	cleanup := func() {
		fd.Close()
		_ = client.Close()
		_ = db.Close()
	}
	return engine, cleanup, nil
}
