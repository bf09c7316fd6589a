package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerchat/internal/backend"
	"ledgerchat/internal/cache"
	"ledgerchat/internal/cli"
	"ledgerchat/internal/config"
	"ledgerchat/internal/core"
	"ledgerchat/internal/dispatch"
	"ledgerchat/internal/engine"
	apphttp "ledgerchat/internal/http"
	"ledgerchat/internal/log"
	"ledgerchat/internal/metrics"
	"ledgerchat/internal/resolve"
	"ledgerchat/internal/telegram"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledgerchat stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("ledgerchat stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	taxonomy, err := core.LoadTaxonomy(cfg.CategoriesFile)
	if err != nil {
		return err
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	factory := backend.NewFactory(logger)
	backends, err := factory.Build(ctx, bcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	}()

	classifier := factory.Classifier(ctx, backend.ClassifierConfig{
		APIKey:          cfg.LLMAPIKey,
		BaseURL:         cfg.LLMBaseURL,
		Model:           cfg.LLMModel,
		Timeout:         cfg.LLMTimeout,
		DefaultCurrency: cfg.DefaultCurrency,
		Taxonomy:        taxonomy,
	})
	resolver := resolve.New(resolve.Options{
		Location:        cfg.Location(),
		DefaultCurrency: cfg.DefaultCurrency,
		DefaultDuration: cfg.DefaultEventDuration,
		Lookback:        cfg.EventLookback,
		Lookahead:       cfg.EventLookahead,
	})
	eng := engine.New(engine.NewLedger(backends.Ledger), engine.NewCalendar(backends.Calendar))
	collector := metrics.New()

	dispatcher := dispatch.New(classifier, resolver, eng, backends.Recorder, collector, dispatch.Options{
		Authorized:   splitIDs(cfg.AuthorizedUserID),
		UndoDepth:    cfg.UndoDepth,
		Location:     cfg.Location(),
		Linker:       backends.Linker,
		History:      backends.History,
		HistoryTurns: cfg.HistoryTurns,
	})
	if cfg.AuthorizedUserID == "" {
		logger.Warn("AUTHORIZED_USER_ID is empty, every identity will be served")
	}

	checks := make([]apphttp.ReadinessCheck, 0, len(backends.Checks))
	for _, c := range backends.Checks {
		checks = append(checks, apphttp.ReadinessCheck{Name: c.Name, Check: c.Check})
	}
	srv := apphttp.NewServer(":"+cfg.Port, dispatcher, apphttp.Options{
		APIToken: cfg.APIToken,
		Metrics:  collector,
		Logger:   logger,
		Checks:   checks,
	})

	caches := cache.NewManager(dispatcher.Seen())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "port", cfg.Port, log.FieldBackend, cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		caches.Run(gctx, time.Minute)
		return nil
	})

	if cfg.TelegramToken != "" {
		bot, err := telegram.New(cfg.TelegramToken, dispatcher, telegram.Options{Logger: logger})
		if err != nil {
			return err
		}
		g.Go(func() error { return bot.Run(gctx) })
	} else {
		logger.Warn("TELEGRAM_TOKEN is empty, serving the HTTP API only")
	}

	return g.Wait()
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
