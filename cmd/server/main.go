// Command server runs the sitecheck HTTP API. main only wires dependencies
// and owns the process lifecycle; behavior lives in the internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sitecheck/internal/audit/handler"
	auditmetrics "sitecheck/internal/audit/metrics"
	"sitecheck/internal/audit/service/analyzer"
	"sitecheck/internal/audit/service/claim"
	"sitecheck/internal/audit/service/dedup"
	"sitecheck/internal/audit/service/domains"
	"sitecheck/internal/audit/service/issues"
	"sitecheck/internal/audit/service/pages"
	"sitecheck/internal/audit/service/quota"
	"sitecheck/internal/audit/service/runner"
	issuestore "sitecheck/internal/audit/store/issue"
	runstore "sitecheck/internal/audit/store/run"
	usagestore "sitecheck/internal/audit/store/usage"
	"sitecheck/internal/auth"
	"sitecheck/internal/crawler"
	"sitecheck/internal/events"
	"sitecheck/internal/llm"
	"sitecheck/internal/platform/config"
	"sitecheck/internal/platform/httpserver"
	"sitecheck/internal/platform/logger"
	"sitecheck/internal/platform/metrics"
	"sitecheck/internal/platform/middleware"
	"sitecheck/internal/platform/postgres"
	"sitecheck/internal/platform/redis"
	"sitecheck/internal/profile"
	httptransport "sitecheck/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, finalize locking disabled")
	}

	publisher, err := events.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		return err
	}
	if publisher == nil {
		log.Warn("kafka not configured, event publishing disabled")
	}
	defer publisher.Close()

	httpMetrics := metrics.New()
	pipelineMetrics := auditmetrics.New()

	runs := runstore.NewPostgres(db)
	issueStore := issuestore.NewPostgres(db)
	usage := usagestore.NewPostgres(db)
	profiles := profile.NewPostgres(db)

	crawlClient := crawler.New(cfg.CrawlerBaseURL, crawler.WithLogger(log))
	llmClient := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey)

	quotaGuard, err := quota.New(runs, usage,
		quota.WithLogger(log),
		quota.WithMetrics(pipelineMetrics),
	)
	if err != nil {
		return err
	}
	selector, err := pages.New(crawlClient, pages.WithLogger(log))
	if err != nil {
		return err
	}
	auditor, err := analyzer.New(llmClient, crawlClient,
		analyzer.WithLogger(log),
		analyzer.WithMetrics(pipelineMetrics),
	)
	if err != nil {
		return err
	}
	deduper, err := dedup.New(issueStore,
		dedup.WithLogger(log),
		dedup.WithMetrics(pipelineMetrics),
	)
	if err != nil {
		return err
	}
	runSvc, err := runner.New(runs, usage, profiles, quotaGuard, selector, auditor, deduper,
		runner.WithLogger(log),
		runner.WithMetrics(pipelineMetrics),
		runner.WithEvents(publisher),
		runner.WithLocks(redisClient),
	)
	if err != nil {
		return err
	}
	claims, err := claim.New(runs,
		claim.WithLogger(log),
		claim.WithMetrics(pipelineMetrics),
		claim.WithEvents(publisher),
	)
	if err != nil {
		return err
	}
	issueSvc, err := issues.New(issueStore, runs, issues.WithLogger(log))
	if err != nil {
		return err
	}
	domainSvc, err := domains.New(runs, issueStore, usage,
		domains.WithLogger(log),
		domains.WithEvents(publisher),
	)
	if err != nil {
		return err
	}

	tokens := auth.NewTokenService(cfg.JWTSigningKey, "sitecheck")
	router := httptransport.NewRouter(httptransport.Deps{
		Audit:    handler.New(runSvc, claims, issueSvc, domainSvc, log),
		Tokens:   tokens,
		Throttle: middleware.NewThrottle(cfg.AnonRatePerMinute, cfg.AnonBurst, log),
		Metrics:  httpMetrics,
		Logger:   log,
		Health: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Health(ctx)
			}
			return nil
		},
	})

	srv := httpserver.New(cfg.Addr, router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting sitecheck", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let dispatched audits finalize before the stores go away.
	runSvc.Wait()
	return nil
}
