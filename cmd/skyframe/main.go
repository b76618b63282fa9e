package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/api"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/astrometry"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/auth"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/catalog"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/config"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/metrics"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/skymap"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/solve"
)

func main() {
	configPath := os.Getenv("SKYFRAME_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	applyEnvOverrides(cfg, bootstrap)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	if cfg.Astrometry.APIKey == "" {
		logger.Warn("no astrometry API key configured, analyze endpoints will fail upstream auth")
	}

	cat, err := catalog.Load(logger)
	if err != nil {
		logger.Error("loading target catalog", "error", err)
		os.Exit(1)
	}

	store := skymap.NewStore(cfg.Skymap.TileDir, cfg.Skymap.TileCacheSize, logger)
	if store.Available() {
		metrics.SetSkymapAvailable(true)
	} else {
		logger.Warn("sky map tiles not found, preview endpoint will report degraded",
			"tile_dir", cfg.Skymap.TileDir)
	}
	renderer := skymap.NewRenderer(store, cfg.Skymap.MaxOutputPx, logger)

	client := astrometry.NewClient(cfg.Astrometry.APIKey, cfg.Astrometry.APIURL, cfg.Astrometry.Timeout.Std(), logger)
	solver := solve.NewSolver(client, solve.Config{
		PollInterval: cfg.Astrometry.PollInterval.Std(),
		PollBudget:   cfg.Astrometry.PollBudget.Std(),
	}, clockwork.NewRealClock(), logger)

	authCfg := auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}
	if authCfg.Enabled {
		logger.Info("auth enabled")
	}

	srv := api.NewServer(cfg.HTTPAddr, logger, authCfg, api.Deps{
		Catalog:        cat,
		Store:          store,
		Renderer:       renderer,
		Solver:         solver,
		Limiter:        solve.NewLimiter(cfg.Limits.MaxConcurrentSolvesPerIP),
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
		TrustProxy:     envBool("SKYFRAME_TRUST_PROXY", false, bootstrap),
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background goroutine to keep the skymap availability gauge current;
	// the atlas can be mounted or removed while the service runs.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SetSkymapAvailable(store.Available())
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"auth_enabled", authCfg.Enabled,
			"tile_dir", cfg.Skymap.TileDir,
			"astrometry_url", cfg.Astrometry.APIURL,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// applyEnvOverrides layers SKYFRAME_* environment variables over the file
// configuration. Invalid values warn and keep the current setting.
func applyEnvOverrides(cfg *config.Config, logger *slog.Logger) {
	if v := os.Getenv("SKYFRAME_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SKYFRAME_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SKYFRAME_ASTROMETRY_API_KEY"); v != "" {
		cfg.Astrometry.APIKey = v
	}
	if v := os.Getenv("SKYFRAME_ASTROMETRY_API_URL"); v != "" {
		cfg.Astrometry.APIURL = v
	}
	if v := os.Getenv("SKYFRAME_TILE_DIR"); v != "" {
		cfg.Skymap.TileDir = v
	}
	if v := os.Getenv("SKYFRAME_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}

	cfg.Auth.Enabled = envBool("SKYFRAME_AUTH_ENABLED", cfg.Auth.Enabled, logger)
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		logger.Warn("auth enabled without a token, disabling auth")
		cfg.Auth.Enabled = false
	}

	if v := os.Getenv("SKYFRAME_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("invalid SKYFRAME_POLL_INTERVAL value, keeping current", "value", v)
		} else {
			cfg.Astrometry.PollInterval = config.Duration(d)
		}
	}
	if v := os.Getenv("SKYFRAME_POLL_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < cfg.Astrometry.PollInterval.Std() {
			logger.Warn("invalid SKYFRAME_POLL_BUDGET value, keeping current", "value", v)
		} else {
			cfg.Astrometry.PollBudget = config.Duration(d)
		}
	}
	if v := os.Getenv("SKYFRAME_TILE_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SKYFRAME_TILE_CACHE_SIZE value, keeping current", "value", v)
		} else {
			cfg.Skymap.TileCacheSize = n
		}
	}
	if v := os.Getenv("SKYFRAME_MAX_OUTPUT_PX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 {
			logger.Warn("invalid SKYFRAME_MAX_OUTPUT_PX value, keeping current", "value", v)
		} else {
			cfg.Skymap.MaxOutputPx = n
		}
	}
}

func envBool(name string, current bool, logger *slog.Logger) bool {
	v := os.Getenv(name)
	if v == "" {
		return current
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid boolean value, keeping current", "var", name, "value", v)
		return current
	}
	return b
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
