package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeease/scrapeease/internal/crawl"
	"github.com/scrapeease/scrapeease/internal/export"
	"github.com/scrapeease/scrapeease/internal/fetcher"
	"github.com/scrapeease/scrapeease/internal/job"
	"github.com/scrapeease/scrapeease/internal/model"
	"github.com/scrapeease/scrapeease/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  "Serves the scraping API: URL validation, structure detection, async scrape jobs, result download, and export history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := buildStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		client := fetcher.FromConfig(cfg.Fetch)
		heur, err := loadHeuristics()
		if err != nil {
			return err
		}
		crawler := crawl.New(client, heur, time.Duration(cfg.Crawl.BudgetSecs)*time.Second)

		writer, err := export.NewWriter(cfg.Export)
		if err != nil {
			return err
		}
		files := export.NewFiles(cfg.Export.DataDir)

		sink := func(ctx context.Context, j model.ScrapeJob) error {
			_, err := writer.WriteAll(ctx, j.ID, j.Dataset)
			return err
		}
		ctrl := job.New(st, client, crawler, job.Options{
			MaxPages:             cfg.Crawl.MaxPages,
			MaxRows:              cfg.Normalize.MaxRows,
			MaxConcurrentFetches: cfg.Jobs.MaxConcurrentFetches,
		}, sink)
		defer ctrl.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(ctrl, client, files, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		zap.L().Info("server listening", zap.Int("port", cfg.Server.Port))

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return eris.Wrap(err, "serve: listen")
		}

		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "serve: shutdown")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func buildStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "scrapeease.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func loadHeuristics() (crawl.Heuristics, error) {
	if cfg.Crawl.HeuristicsFile == "" {
		return crawl.DefaultHeuristics(), nil
	}
	return crawl.LoadHeuristics(cfg.Crawl.HeuristicsFile)
}
