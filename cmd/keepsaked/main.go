// Package main wires together the keepsake capture service.
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

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/airouter"
	"github.com/keepsake-labs/keepsake/internal/airouter/gemini"
	"github.com/keepsake-labs/keepsake/internal/airouter/openai"
	"github.com/keepsake-labs/keepsake/internal/api"
	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/clock/system"
	"github.com/keepsake-labs/keepsake/internal/config"
	"github.com/keepsake-labs/keepsake/internal/dispatcher"
	"github.com/keepsake-labs/keepsake/internal/engine"
	collyfetcher "github.com/keepsake-labs/keepsake/internal/fetcher/colly"
	headlessfetcher "github.com/keepsake-labs/keepsake/internal/fetcher/headless"
	"github.com/keepsake-labs/keepsake/internal/index"
	"github.com/keepsake-labs/keepsake/internal/logging"
	"github.com/keepsake-labs/keepsake/internal/metrics"
	"github.com/keepsake-labs/keepsake/internal/scraper"
	"github.com/keepsake-labs/keepsake/internal/search"
	"github.com/keepsake-labs/keepsake/internal/storage/gcs"
	"github.com/keepsake-labs/keepsake/internal/storage/memory"
	"github.com/keepsake-labs/keepsake/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
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
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop func()) error {
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		Channel:  cfg.Pipeline.Channel,
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	clock := system.New()

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
	}, clock)
	fetchers := []capture.Fetcher{probe}
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, clock)
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer headless.Close()
			fetchers = append(fetchers, headless)
		}
	}
	chain, err := scraper.NewChain(scraper.Config{
		MinContentChars: cfg.Scraper.MinContentChars,
	}, logger.Named("scraper"), fetchers...)
	if err != nil {
		return fmt.Errorf("init scraper chain: %w", err)
	}

	providers, closeProviders, err := buildProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init ai providers: %w", err)
	}
	defer closeProviders()

	router, err := airouter.New(airouter.Config{
		HealthHalfLife: time.Duration(cfg.AI.Router.HealthHalfLifeSec) * time.Second,
		CallTimeout:    cfg.AICallTimeout(),
	}, logger.Named("airouter"), clock, providers...)
	if err != nil {
		return fmt.Errorf("init ai router: %w", err)
	}

	var analyzer capture.Analyzer = router
	if cfg.AI.Router.ClassifyTasks {
		analyzer = airouter.NewEnhanced(router, logger.Named("airouter"))
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob archive: %w", err)
	}

	stage := index.New(index.Config{
		ModelVersion: "v1",
		MaxChars:     cfg.Pipeline.EmbedMaxChars,
	}, router, store, store, logger.Named("index"))

	eng := engine.New(engine.Config{
		AnalyzeMaxChars: cfg.Pipeline.AnalyzeMaxChars,
	}, store, chain, analyzer, stage, archive, clock, logger.Named("engine"))

	listener, err := dispatcher.NewPGListener(dispatcher.ListenerConfig{
		DSN:          cfg.DB.DSN,
		Channel:      cfg.Pipeline.Channel,
		MinReconnect: time.Duration(cfg.Pipeline.ReconnectMinMs) * time.Millisecond,
		MaxReconnect: time.Duration(cfg.Pipeline.ReconnectMaxMs) * time.Millisecond,
	}, logger.Named("listener"))
	if err != nil {
		return fmt.Errorf("init listener: %w", err)
	}
	defer func() {
		if err := listener.Close(context.Background()); err != nil {
			logger.Warn("listener close failed", zap.Error(err))
		}
	}()

	dispatch, err := dispatcher.New(dispatcher.Config{
		Concurrency: cfg.Pipeline.Concurrency,
	}, listener, store, eng, logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	searcher := search.New(store, store, router, logger.Named("search"))
	apiServer := api.NewServer(store, searcher, router, chain, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	logger.Info("shutdown complete")
	return nil
}

// buildProviders constructs the enabled AI providers in configured priority
// order: OpenAI-compatible first, Gemini second.
func buildProviders(ctx context.Context, cfg config.Config) ([]capture.Provider, func(), error) {
	var (
		providers []capture.Provider
		closers   []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.AI.OpenAI.Enabled {
		p, err := openai.New(openai.Config{
			BaseURL:         cfg.AI.OpenAI.BaseURL,
			APIKey:          cfg.AI.OpenAI.APIKey,
			Model:           cfg.AI.OpenAI.Model,
			EmbeddingModel:  cfg.AI.OpenAI.EmbeddingModel,
			CostPer1KTokens: cfg.AI.OpenAI.CostPer1KTokens,
		})
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
	}

	if cfg.AI.Gemini.Enabled {
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:          cfg.AI.Gemini.APIKey,
			Model:           cfg.AI.Gemini.Model,
			EmbeddingModel:  cfg.AI.Gemini.EmbeddingModel,
			CostPer1KTokens: cfg.AI.Gemini.CostPer1KTokens,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		providers = append(providers, p)
		closers = append(closers, p.Close)
	}

	return providers, closeAll, nil
}

// buildArchive selects the raw-content blob archive.
func buildArchive(ctx context.Context, cfg config.Config) (capture.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.Prefix,
		})
	case "memory", "":
		return memory.NewBlobStore(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
