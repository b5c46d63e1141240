// Package main is the entry point for the mineshare account server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (flags, config file, env vars)
// 2. Create the logger
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server,
// internal/service, internal/handler, etc.).
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/mineshare/internal/config"
	"github.com/sakif/mineshare/internal/repository/sqldb"
	"github.com/sakif/mineshare/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// -config points at an optional YAML file; MINESHARE_CONFIG is the
	// fallback. Every key can still be overridden by MINESHARE_* env vars.
	configPath := flag.String("config", os.Getenv("MINESHARE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No configured logger yet.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Human-readable text in development, JSON everywhere else so log
	// shippers can parse it.
	level, _ := cfg.SlogLevel() // validated by config.Load
	opts := &slog.HandlerOptions{Level: level}

	var logHandler slog.Handler
	if cfg.IsDevelopment() {
		logHandler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// A file-backed SQLite database needs its directory to exist.
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.DB.Driver == sqldb.DriverSQLite && cfg.DB.DSN != ":memory:" {
		dbDir := filepath.Dir(cfg.DB.DSN)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	// A nil mailer lets the server pick SMTP or the log mailer from cfg.
	srv, err := server.New(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
