// Package main is the entry point for the ERNIE Bot gateway server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hpn/hpn-ernie-router/internal/adapter"
	"github.com/hpn/hpn-ernie-router/internal/config"
	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/hpn/hpn-ernie-router/internal/erniebot"
	"github.com/hpn/hpn-ernie-router/internal/handler"
	"github.com/hpn/hpn-ernie-router/internal/security"
	"github.com/hpn/hpn-ernie-router/internal/ui"
)

func main() {
	// =========================================================================
	// 1. Bootstrap logger from the environment until the config is loaded
	// =========================================================================
	logger := setupLogger(os.Getenv("EB_AGENT_LOGGING_LEVEL"), "json", os.Stdout)

	if color.NoColor {
		ui.PrintMiniBanner()
	} else {
		ui.PrintBanner()
	}

	// =========================================================================
	// 2. Load configuration (Singleton)
	// =========================================================================
	cfg, err := config.GetConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logOut, closeLog, err := openLogOutput(cfg.Logging.OutputPath)
	if err != nil {
		logger.Error("failed to open log output", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeLog()
	logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format, logOut)

	logger.Info("configuration loaded",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("api_type", string(cfg.Ernie.APIType)),
		slog.String("model", cfg.Ernie.Model),
		slog.Int("tokens", len(cfg.KeyPool.Tokens)),
	)

	// =========================================================================
	// 3. Token pool, ERNIE client and response cache
	// =========================================================================
	pool := domain.NewTokenPool(cfg.KeyPool.Tokens, cfg.KeyPool.Cooldown())

	logger.Info("token pool initialized",
		slog.Int("total_tokens", pool.TotalCount()),
		slog.Duration("cooldown", cfg.KeyPool.Cooldown()),
	)
	if pool.TotalCount() == 0 {
		ui.PrintRouterInfo("token pool is empty; requests use the global ERNIE credentials without failover")
	}

	client := newERNIEClient(cfg.Ernie)
	factory := newModelFactory(cfg.Ernie, client, logger)

	store, err := newCacheStore(context.Background(), cfg.Cache, logger)
	if err != nil {
		logger.Error("failed to initialize cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	// =========================================================================
	// 4. Create ProxyHandler and router
	// =========================================================================
	proxyOpts := []handler.ProxyHandlerOption{
		handler.WithMaxRetries(cfg.KeyPool.RetryCount),
		handler.WithDefaultModel(cfg.Ernie.Model),
		handler.WithLogger(logger),
	}
	if store != nil {
		proxyOpts = append(proxyOpts, handler.WithCacheStore(store))
	}
	proxyHandler := handler.NewProxyHandler(pool, factory, proxyOpts...)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(proxyHandler, store, logger, true)

	// =========================================================================
	// 5. Start HTTP server with graceful shutdown
	// =========================================================================
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	cacheDriver := ""
	if store != nil {
		cacheDriver = cfg.Cache.Driver
	}

	go func() {
		logger.Info("server starting", slog.String("address", addr))
		ui.PrintStartupInfo(ui.StartupInfo{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			APIType:      string(cfg.Ernie.APIType),
			DefaultModel: cfg.Ernie.Model,
			ActiveTokens: pool.ActiveCount(),
			CacheDriver:  cacheDriver,
		})

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// =========================================================================
	// 6. Graceful shutdown on SIGTERM/SIGINT
	// =========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	ui.PrintShutdown()

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
	ui.PrintGoodbye()
}

// setupRouter registers the middleware chain and the OpenAI-compatible routes.
// The console middleware is left out of tests to keep their output readable.
func setupRouter(proxyHandler *handler.ProxyHandler, store handler.Store, logger *slog.Logger, console bool) *gin.Engine {
	router := gin.New()

	router.Use(handler.RecoveryMiddleware(logger))
	router.Use(handler.CORSMiddleware())
	router.Use(handler.StripAuthHeadersMiddleware())
	router.Use(handler.LoggingMiddleware(logger))
	if console {
		router.Use(handler.ConsoleMiddleware())
	}
	if store != nil {
		router.Use(handler.CacheMiddleware(store, logger))
	}

	router.POST("/v1/chat/completions", proxyHandler.HandleChatCompletion)
	router.GET("/v1/models", proxyHandler.HandleModels)
	router.GET("/health", proxyHandler.HandleHealth)

	// Also support without /v1 prefix for compatibility
	router.POST("/chat/completions", proxyHandler.HandleChatCompletion)

	return router
}

// newERNIEClient builds the shared upstream client. Sharing it shares the
// qianfan token cache across requests.
func newERNIEClient(cfg config.ErnieConfig) *erniebot.Client {
	opts := []erniebot.ClientOption{}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, erniebot.WithTimeout(cfg.Timeout()))
	}
	if cfg.AIStudioBaseURL != "" {
		opts = append(opts, erniebot.WithAIStudioBaseURL(cfg.AIStudioBaseURL))
	}
	if cfg.QianfanBaseURL != "" {
		opts = append(opts, erniebot.WithQianfanBaseURL(cfg.QianfanBaseURL))
	}
	if cfg.TokenURL != "" {
		opts = append(opts, erniebot.WithTokenURL(cfg.TokenURL))
	}
	return erniebot.NewClient(opts...)
}

// newModelFactory returns the per-attempt ChatModel constructor the gateway
// uses for failover. An empty token leaves credential resolution to the adapter.
func newModelFactory(cfg config.ErnieConfig, client *erniebot.Client, logger *slog.Logger) adapter.ModelFactory {
	return func(model, accessToken string) (adapter.ChatModel, error) {
		opts := []adapter.Option{
			adapter.WithAPIType(cfg.APIType),
			adapter.WithMultiStepToolCall(cfg.EnableMultiStepToolCall),
			adapter.WithClient(client),
			adapter.WithLogger(logger),
		}
		if accessToken != "" {
			opts = append(opts, adapter.WithAccessToken(accessToken))
		}
		if cfg.AK != "" && cfg.SK != "" {
			opts = append(opts, adapter.WithAKSK(cfg.AK, cfg.SK))
		}

		bot, err := adapter.New(model, opts...)
		if err != nil {
			return nil, err
		}
		return bot, nil
	}
}

// newCacheStore returns the configured cache backend, or nil when caching is off.
func newCacheStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (handler.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case config.CacheDriverRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		cache, err := handler.NewRedisCache(pingCtx,
			&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
			handler.WithRedisKeyPrefix(cfg.Redis.KeyPrefix),
			handler.WithRedisTTL(cfg.TTL()),
			handler.WithRedisLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis cache connected", slog.String("addr", cfg.Redis.Addr))
		return cache, nil

	default:
		return handler.NewFlashCache(
			handler.WithCacheTTL(cfg.TTL()),
			handler.WithCacheLogger(logger),
		), nil
	}
}

// openLogOutput returns stdout, or the file at path opened for appending.
func openLogOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// setupLogger creates a structured logger that redacts credentials.
func setupLogger(levelName, format string, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(security.NewRedactedHandler(base))
	slog.SetDefault(logger)

	return logger
}
