// Package main wires together the audit service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/api"
	"github.com/calumnguyen/seo-crawler-sub001/internal/audit"
	"github.com/calumnguyen/seo-crawler-sub001/internal/backlink"
	"github.com/calumnguyen/seo-crawler-sub001/internal/clock/system"
	"github.com/calumnguyen/seo-crawler-sub001/internal/config"
	"github.com/calumnguyen/seo-crawler-sub001/internal/dedup"
	"github.com/calumnguyen/seo-crawler-sub001/internal/dispatcher"
	collyfetcher "github.com/calumnguyen/seo-crawler-sub001/internal/fetcher/colly"
	"github.com/calumnguyen/seo-crawler-sub001/internal/hash/sha256"
	"github.com/calumnguyen/seo-crawler-sub001/internal/id/uuid"
	"github.com/calumnguyen/seo-crawler-sub001/internal/logging"
	"github.com/calumnguyen/seo-crawler-sub001/internal/queue"
	"github.com/calumnguyen/seo-crawler-sub001/internal/robots"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store/memory"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		return
	}
	defer closeStore()

	clock := system.New()
	ids := uuid.NewGenerator()
	hasher := sha256.New()

	jobQueue := queue.New(queue.Config{
		DefaultDomainDelay: cfg.DomainDelay(),
		PollInterval:       time.Duration(cfg.Crawler.QueuePollMs) * time.Millisecond,
	}, clock, queue.NewRetryPolicy(), logger.Named("queue"))
	defer jobQueue.Close()

	gate := robots.NewGate(robots.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.RobotsTimeout(),
	}, st, logger.Named("robots"))

	tracker := audit.NewReadyTracker()
	manager := audit.NewManager(audit.Config{
		MaxDepth:         cfg.Crawler.MaxDepth,
		MaxPages:         cfg.Crawler.MaxPages,
		CompletionWindow: cfg.CompletionWindow(),
		AutoStopAfter:    cfg.AutoStopAfter(),
	}, st, jobQueue, gate, clock, ids, tracker, logger.Named("audit"))

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
		MaxRedirects: cfg.Crawler.MaxRedirects,
	}, hasher)
	backlinks := backlink.New(st, ids, clock, logger.Named("backlink"))
	deduper := dedup.New(st, logger.Named("dedup"))

	var workers []*audit.Worker
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, audit.NewWorker(
			manager,
			fetcher,
			backlinks,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(workers)

	sweeps := cron.New()
	if _, err := sweeps.AddFunc("@every 1m", func() {
		if _, err := manager.CompletionSweep(ctx); err != nil {
			logger.Warn("completion sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Error("schedule completion sweep failed", zap.Error(err))
		return
	}
	if _, err := sweeps.AddFunc("@hourly", func() {
		if _, err := manager.AutoStopSweep(ctx); err != nil {
			logger.Warn("auto-stop sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Error("schedule auto-stop sweep failed", zap.Error(err))
		return
	}
	janitorAge := time.Duration(cfg.Crawler.JanitorAgeHours) * time.Hour
	if _, err := sweeps.AddFunc("@hourly", func() {
		if pruned := jobQueue.Janitor(janitorAge); pruned > 0 {
			logger.Info("queue janitor pruned finished jobs", zap.Int("count", pruned))
		}
	}); err != nil {
		logger.Error("schedule queue janitor failed", zap.Error(err))
		return
	}

	apiServer := api.NewServer(manager, backlinks, deduper, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()
	sweeps.Start()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	cronCtx := sweeps.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-cronCtx.Done()
	manager.WaitIdle()
}

// openStore selects the backing store: Postgres when a DSN is configured,
// the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory store")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("using postgres store")
	return pg, pg.Close, nil
}
