package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/felixkranz/aps"
	"github.com/felixkranz/aps/internal/config"
	"github.com/felixkranz/aps/internal/logging"
)

// #region main

func main() {
	cfgPath := flag.String("config", envOr("APS_CONFIG", ""), "path to deployment YAML")
	dbPath := flag.String("db", "", "override storage path from the config")
	flag.Parse()

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: controller --config path/to/aps.yaml [--db path/to/aps.db]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	log := installLogger(cfg.Logging.Level)

	opts, err := cfg.Options()
	if err != nil {
		log.Error("materialize config", "err", err)
		os.Exit(2)
	}
	opts.Logger = logging.NewSlogAdapter(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := aps.Open(ctx, opts)
	if err != nil {
		log.Error("open system", "err", err)
		os.Exit(1)
	}

	if err := sys.Start(ctx); err != nil {
		if errors.Is(err, aps.ErrNoController) {
			log.Error("config declares no goals; nothing to supervise")
		} else {
			log.Error("start controller", "err", err)
		}
		sys.Close()
		os.Exit(1)
	}

	log.Info("controller running",
		"config", *cfgPath,
		"db", cfg.Storage.Path,
		"interval", opts.Interval,
		"channels", len(opts.Schemes),
		"thetas", len(opts.Thetas),
		"goals", len(opts.Goals))

	<-ctx.Done()
	log.Info("shutting down")
	if err := sys.Close(); err != nil {
		log.Error("close", "err", err)
		os.Exit(1)
	}
}

// #endregion main

// #region helpers

func installLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(log)
	return log
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
