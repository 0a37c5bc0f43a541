package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mark3labs/mcp-go/server"

	"github.com/felixkranz/aps"
	"github.com/felixkranz/aps/internal/config"
	"github.com/felixkranz/aps/internal/logging"
	"github.com/felixkranz/aps/internal/ops"
)

// #region main

func main() {
	cfgPath := flag.String("config", envOr("APS_CONFIG", ""), "path to deployment YAML")
	dbPath := flag.String("db", "", "override storage path from the config")
	flag.Parse()

	if *cfgPath == "" && *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ops --config path/to/aps.yaml [--db path/to/aps.db]")
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

	// Log to stderr only; stdout belongs to the MCP stdio transport.
	log := installLogger(cfg.Logging.Level)

	opts, err := cfg.Options()
	if err != nil {
		log.Error("materialize config", "err", err)
		os.Exit(2)
	}
	opts.Logger = logging.NewSlogAdapter(log)

	sys, err := aps.Open(context.Background(), opts)
	if err != nil {
		log.Error("open system", "err", err)
		os.Exit(1)
	}
	defer sys.Close()

	log.Info("aps ops server on stdio", "db", cfg.Storage.Path)
	if err := server.ServeStdio(ops.NewServer(sys)); err != nil {
		log.Error("serve", "err", err)
		sys.Close()
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
