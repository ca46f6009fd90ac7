package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chatrealm/chatrealm/internal/api"
	"github.com/chatrealm/chatrealm/internal/config"
	"github.com/chatrealm/chatrealm/internal/prompt"
	"github.com/chatrealm/chatrealm/internal/provider"
	"github.com/chatrealm/chatrealm/internal/server"
	"github.com/chatrealm/chatrealm/internal/stats"
	"github.com/chatrealm/chatrealm/internal/store"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	dsn             string
	redisURL        string
	signingKey      string
	providerName    string
	providerKey     string
	providerModel   string
	providerBaseURL string
	configFile      string
	allowedOrigins  stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisURL, "redis-url", "", "redis URL for the context cache (empty for in-process cache)")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&providerName, "provider", "openai", "completion provider (openai, gemini, mock)")
	flag.StringVar(&providerKey, "provider-key", os.Getenv("PROVIDER_API_KEY"), "completion provider API key")
	flag.StringVar(&providerModel, "provider-model", "", "completion provider model override")
	flag.StringVar(&providerBaseURL, "provider-base-url", "https://api.asi1.ai/v1", "base URL for the openai-compatible provider")
	flag.StringVar(&configFile, "config", "", "path to YAML config file for personas and tuning")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.New(addr, dsn, redisURL, signingKey, providerName, providerKey, providerModel, providerBaseURL, configFile, allowedOrigins)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	repo, err := store.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("db close", zap.Error(err))
		}
	}()

	var cache store.ContextCache
	if cfg.RedisURL != "" {
		cache, err = store.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis open", zap.Error(err))
		}
	} else {
		logger.Warn("no redis URL configured, session resume limited to this process")
		cache = store.NewMemoryCache()
	}
	defer cache.Close()

	completions, err := buildProvider(cfg)
	if err != nil {
		logger.Fatal("provider", zap.Error(err))
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger)

	orchestrator := prompt.NewOrchestrator(cfg.Personas, cfg.Tuning.PayloadBudget, cfg.Tuning.MaxThreadSummaries)

	dispatcher, err := server.NewDispatcher(server.Deps{
		Log:          logger,
		Repo:         repo,
		Cache:        cache,
		Stats:        statsUpdater,
		Orchestrator: orchestrator,
		Provider:     completions,
		Tuning:       cfg.Tuning,
	})
	if err != nil {
		logger.Fatal("new dispatcher", zap.Error(err))
	}

	srv := api.NewServer(mux, logger, dispatcher, repo, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go dispatcher.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server", zap.Error(err))
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	logger.Info("shutting down dispatcher")
	if err := dispatcher.Shutdown(shutDownCtx); err != nil {
		logger.Error("dispatcher shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func buildProvider(cfg *config.Config) (provider.CompletionProvider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.ProviderAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return provider.NewOpenAIClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderModel), nil
	case "gemini":
		if cfg.ProviderAPIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		return provider.NewGeminiClient(context.Background(), cfg.ProviderAPIKey, cfg.ProviderModel)
	case "mock":
		return &provider.MockProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
