package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"pricewatch/api"
	"pricewatch/config"
	"pricewatch/models"
	"pricewatch/services"
	"pricewatch/storage"
	"pricewatch/utils"
)

const Version = "0.1.0"

const usage = `Pricewatch: crowd-sourced price reports.

Usage:
    pricewatch serve [--env=<file>]
    pricewatch import <csv> [--env=<file>]
    pricewatch export <csv> [--env=<file>]
    pricewatch insights [--env=<file>]
    pricewatch -h | --help
    pricewatch --version

Options:
    -h --help       Show this screen.
    --version       Show version.
    --env=<file>    Load configuration from this .env file instead of ./.env.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var cfg *config.Config
	if env, _ := opts.String("--env"); env != "" {
		cfg = config.Load(env)
	} else {
		cfg = config.Load()
	}

	logger := utils.NewLogger()
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== Pricewatch starting (backend: %s) ===", cfg.StoreBackend)
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreBackend, err)
		if cfg.StoreBackend == "postgres" {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		os.Exit(1)
	}
	app := newApp(cfg, backend, logger)

	switch {
	case command(opts, "serve"):
		err = app.serve(ctx)
	case command(opts, "import"):
		path, _ := opts.String("<csv>")
		err = app.importCSV(ctx, path)
	case command(opts, "export"):
		path, _ := opts.String("<csv>")
		err = app.exportCSV(ctx, path)
	case command(opts, "insights"):
		err = app.insights(ctx)
	}
	if cerr := backend.Close(); cerr != nil {
		logger.Warn("close store: %v", cerr)
	}
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func command(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func openBackend(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Backend, error) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "postgres":
		retry := &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			Logger:      logger,
		}
		return storage.NewPostgresStore(ctx, cfg.DSN(), retry, logger)
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q (want memory or postgres)", cfg.StoreBackend)
}

// app wires every service over one backend.
type app struct {
	cfg     *config.Config
	backend storage.Backend
	logger  *utils.Logger

	ledger      *services.Ledger
	submissions *services.SubmissionService
	votes       services.Voter
	comments    *services.CommentLog
	views       *services.ViewComposer
}

func newApp(cfg *config.Config, backend storage.Backend, logger *utils.Logger) *app {
	resolver := services.NewResolver(backend, logger)
	ledger := services.NewLedger(backend, logger)
	aggregator := services.NewVoteAggregator(backend, cfg.VoteMaxAttempts, logger)

	return &app{
		cfg:         cfg,
		backend:     backend,
		logger:      logger,
		ledger:      ledger,
		submissions: services.NewSubmissionService(resolver, ledger, nil, logger),
		votes:       services.NewVotePolicy(backend, aggregator),
		comments:    services.NewCommentLog(backend, logger),
		views:       services.NewViewComposer(backend, backend, backend, logger),
	}
}

func (a *app) serve(ctx context.Context) error {
	server, err := api.New(api.Services{
		Submissions: a.submissions,
		Ledger:      a.ledger,
		Votes:       a.votes,
		Comments:    a.comments,
		Views:       a.views,
	}, api.Options{
		JWTSecret:      []byte(a.cfg.JWTSecret),
		RequestTimeout: time.Duration(a.cfg.RequestTimeoutMs) * time.Millisecond,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	return server.Run(ctx, a.cfg.HTTPPort)
}

func (a *app) importCSV(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	importer := services.NewImporter(a.submissions, a.cfg.MaxConcurrency, a.cfg.RateLimitMs, a.logger)
	report, err := importer.Import(ctx, f)
	if err != nil {
		return err
	}
	for _, rowErr := range report.Errors {
		a.logger.Warn("%v", rowErr)
	}
	a.logger.Info("Imported %s: %d rows, %d submitted, %d duplicates, %d failed",
		path, report.Rows, report.Submitted, report.Duplicates, report.Failed)

	// The memory backend is gone once the process exits, so show what landed.
	if a.cfg.StoreBackend == "memory" {
		return a.insights(ctx)
	}
	return nil
}

func (a *app) exportCSV(ctx context.Context, path string) error {
	reports, err := a.backend.ListPrices(ctx)
	if err != nil {
		return fmt.Errorf("list prices: %w", err)
	}

	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return fmt.Errorf("create CSV writer: %w", err)
	}
	if err := writeAll(w, reports); err != nil {
		return err
	}
	a.logger.Info("Exported %d price reports to %s", len(reports), path)
	return nil
}

func writeAll(sink storage.ReportWriter, reports []*models.PriceReport) error {
	if err := sink.WriteReports(reports); err != nil {
		sink.Close()
		return fmt.Errorf("export write failed: %w", err)
	}
	return sink.Close()
}

func (a *app) insights(ctx context.Context) error {
	reports, err := a.backend.ListPrices(ctx)
	if err != nil {
		return fmt.Errorf("list prices: %w", err)
	}
	svc := services.NewInsightService(a.logger)
	svc.Print(svc.Generate(reports), nil)
	return nil
}
