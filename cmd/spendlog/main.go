package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendlog/internal/backend"
	"spendlog/internal/cache"
	"spendlog/internal/cli"
	"spendlog/internal/config"
	"spendlog/internal/currency"
	apphttp "spendlog/internal/http"
	"spendlog/internal/inference"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
	"spendlog/internal/middleware/security"
	"spendlog/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(config.Load())
	cfg := cli.LoadAndValidateConfig(logger)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(bootCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	engineOpts := []currency.Option{currency.WithLogger(logger), currency.WithBase(cfg.RatesBase)}
	if cfg.RatesURL != "" {
		engineOpts = append(engineOpts, currency.WithSource(currency.NewHTTPSource(cfg.RatesURL)))
	}
	rates := currency.NewEngine(engineOpts...)

	var scheduler *currency.Scheduler
	if cfg.RatesURL != "" {
		scheduler, err = currency.NewScheduler(rates, cfg.RatesRefreshSchedule, logger)
		if err != nil {
			logger.Error("Invalid rates schedule", log.FieldError, err)
			os.Exit(1)
		}
		scheduler.Start()
		go func() {
			if _, err := rates.Refresh(bootCtx); err != nil {
				logger.Warn("Initial rates refresh failed, using fallback table", log.FieldError, err)
			}
		}()
	}

	caches := cache.NewManager(logger)
	sessionOpts := []session.Option{session.WithLogger(logger)}
	if cfg.GeminiAPIKey != "" {
		gemini, err := inference.NewGemini(bootCtx, inference.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Gemini client", log.FieldError, err)
			os.Exit(1)
		}
		suggestions := cache.NewLRUCache[inference.Suggestion](cfg.InferenceCacheSize, cfg.InferenceCacheTTL)
		caches.Register("inference", suggestions)
		sessionOpts = append(sessionOpts, session.WithInferrer(inference.NewCached(gemini, suggestions, logger)))
	} else {
		logger.Info("GEMINI_API_KEY not set, quick expenses disabled")
	}
	caches.StartCleanup(time.Minute)

	sessions := session.NewManager(result, sessionOpts...)

	headers := security.DefaultHeadersConfig()
	headers.AllowedOrigin = cfg.AppOrigin
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Sessions: sessions,
		Rates:    rates,
		Limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.QuickExpenseRPM}, logger),
		Detector: security.NewDetector(false, logger),
		Headers:  headers,
		Logger:   logger,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := sessions.CloseAll(ctx); err != nil {
			logger.Error("Failed to close sessions", log.FieldError, err)
		}
		if scheduler != nil {
			scheduler.Stop()
		}
		caches.Stop()
		if err := result.Close(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err)
		}
	})

	logger.Info("Starting spendlog server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"mode", result.Mode.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
