package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hmlr/titlewatch/service/casemgmt"
	"github.com/hmlr/titlewatch/service/config"
	"github.com/hmlr/titlewatch/service/db"
	"github.com/hmlr/titlewatch/service/ledger"
	"github.com/hmlr/titlewatch/service/metrics"
	natsfeed "github.com/hmlr/titlewatch/service/nats"
	"github.com/hmlr/titlewatch/service/retry"
	"github.com/hmlr/titlewatch/service/router"
	"github.com/hmlr/titlewatch/service/sms"
	"github.com/hmlr/titlewatch/service/subscriber"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting listener",
		"ledger", cfg.LedgerURL(),
		"stream", cfg.LedgerStream,
		"case_management_url", cfg.CaseManagementURL,
		"twilio_trial", cfg.TwilioIsTrial,
		"journal_enabled", cfg.DatabaseURL != "",
		"log_level", cfg.LogLevel,
	)

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Outcome journal, optional
	var journal router.Journal = db.NopJournal{}
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate journal", "error", err)
			os.Exit(1)
		}
		journal = store
		logger.Info("outcome journal enabled")
	} else {
		logger.Warn("DATABASE_URL not set, outcome journal and duplicate suppression disabled")
	}

	// Ledger feed
	feed, err := natsfeed.Connect(natsfeed.FeedConfig{
		URL:      cfg.LedgerURL(),
		Username: cfg.LedgerUsername,
		Password: cfg.LedgerPassword,
		Stream:   cfg.LedgerStream,
		Name:     "titlewatch-listener",
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to connect to ledger", "error", err)
		os.Exit(1)
	}
	defer feed.Close()

	// Fetched once and shared read-only by both subscribers
	identityCtx, identityCancel := context.WithTimeout(ctx, 30*time.Second)
	local, err := feed.Identity(identityCtx)
	identityCancel()
	if err != nil {
		logger.Error("failed to look up local identity", "error", err)
		os.Exit(1)
	}
	logger.Info("local identity", "identity", local.String())

	retryPolicy := retry.DefaultPolicy(cfg.RetryMaxAttempts)

	dispatcher := sms.NewDispatcher(sms.DispatcherConfig{
		APIURL:        cfg.TwilioAPIURL,
		AccountSID:    cfg.TwilioAccountSID,
		AuthToken:     cfg.TwilioAuthToken,
		FromNumber:    cfg.TwilioPhoneNumber,
		Trial:         cfg.TwilioIsTrial,
		Timeout:       cfg.SMSTimeout,
		RatePerSecond: cfg.SMSRatePerSecond,
		Retry:         retryPolicy,
		Metrics:       metricsCollector,
		Logger:        logger,
	})
	notifier := sms.NewNotifier(dispatcher, sms.DefaultCatalog(), cfg.UIURLAgreementSign, cfg.UIURLTitleTransferred)

	caseClient := casemgmt.NewClient(
		cfg.CaseManagementURL,
		metrics.NewHTTPClient(metricsCollector, "case_management", cfg.CaseAPITimeout),
		retryPolicy,
		metricsCollector,
		logger,
	)
	synchronizer := casemgmt.NewSynchronizer(caseClient, metricsCollector, logger)

	rt := router.NewRouter(notifier, synchronizer, journal, metricsCollector, logger)

	agreements, err := subscriber.New(subscriber.Config{
		Name:       "agreements",
		StateTypes: []string{ledger.StateTypeAgreement},
		Filter:     router.IsAgreement,
		Handler:    rt.AgreementHandler(local),
		Feed:       feed,
		Metrics:    metricsCollector,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create agreements subscriber", "error", err)
		os.Exit(1)
	}

	instructions, err := subscriber.New(subscriber.Config{
		Name:       "instructions",
		StateTypes: []string{ledger.StateTypeInstruction},
		Filter:     router.IsInstruction,
		Handler:    rt.InstructionHandler(local),
		Feed:       feed,
		Metrics:    metricsCollector,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create instructions subscriber", "error", err)
		os.Exit(1)
	}

	logger.Info("listener initialized, all dependencies ready")

	// The subscribers are independent; a terminal feed error in one stops both.
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range []*subscriber.Subscriber{agreements, instructions} {
		g.Go(func() error {
			return s.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("listener stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
