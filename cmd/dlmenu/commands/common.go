package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ResistanceIsUseless/disneyland-menu/internal/build"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/cache"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/catalog"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/config"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/remote"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/retry"
	"github.com/ResistanceIsUseless/disneyland-menu/internal/telemetry"
	"github.com/btcsuite/btclog/v2"
	"github.com/spf13/cobra"
)

// app is the wired set of components a command runs against.
type app struct {
	cfg      config.Config
	logs     *build.LogManager
	log      btclog.Logger
	fetcher  *catalog.Fetcher
	shutdown telemetry.ShutdownFunc
}

// checkFormat rejects unknown output formats before any work is done.
func checkFormat(cmd *cobra.Command, args []string) error {
	switch outputFormat {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q, want text or json",
			outputFormat)
	}
}

// loadConfig reads the environment, applies flag overrides and validates
// the result. date overrides DISNEY_API_DATE when non-empty. Only fetches
// hold the date to the fetch window; status and cleanup accept any date.
func loadConfig(date string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if date != "" {
		cfg.Date = date
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// newApp loads the configuration and wires logging, tracing, the upstream
// client, the cache and the fetcher.
func newApp(ctx context.Context, date string) (*app, error) {
	cfg, err := loadConfig(date)
	if err != nil {
		return nil, err
	}

	logCfg := build.LogConfig{Level: cfg.LogLevel}
	if cfg.LogDir != "" {
		logCfg.Rotator = &build.LogRotatorConfig{
			LogDir:         cfg.LogDir,
			Filename:       cfg.LogFile,
			MaxLogFiles:    cfg.MaxLogFiles,
			MaxLogFileSize: cfg.MaxLogFileSize,
		}
	}
	logs, err := build.NewLogManager(logCfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:  cfg,
		logs: logs,
		log:  logs.Logger(build.SubsystemMain),
	}

	a.shutdown, err = telemetry.Setup(
		ctx, "dlmenu", build.Version(), cfg.OTelEndpoint,
	)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout,
		Log:       logs.Logger(build.SubsystemRemote),
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	store, err := cache.NewStore(cache.Config{
		Dir: cfg.CacheDir,
		Now: time.Now,
		Log: logs.Logger(build.SubsystemCache),
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.fetcher = catalog.NewFetcher(catalog.Config{
		CacheEnabled:   cfg.CacheEnabled,
		CacheTTL:       cfg.CacheTTL,
		CacheRetention: cfg.CacheRetention,
		Concurrency:    cfg.Concurrency,
		MaxDaysAhead:   cfg.MaxDaysAhead,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Log:         logs.Logger(build.SubsystemRetry),
		},
		Now: time.Now,
		Log: logs.Logger(build.SubsystemCatalog),
	}, client, store)

	a.log.DebugS(ctx, "Components wired", "cache_dir", cfg.CacheDir,
		"base_url", cfg.BaseURL, "cache_enabled", cfg.CacheEnabled)

	return a, nil
}

// queryDate is the date the command operates on.
func (a *app) queryDate() string {
	return a.cfg.QueryDate(time.Now())
}

// close flushes spans and log output.
func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.log.WarnS(ctx, "Tracing shutdown failed", err)
		}
	}
	if err := a.logs.Close(); err != nil {
		a.log.WarnS(ctx, "Closing log file failed", err)
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
