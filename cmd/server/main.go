// Command server runs the Bakehouse API: tenant sign-up, per-tenant
// directories, Paystack subscriptions, and live notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mbd888/bakehouse/internal/config"
	"github.com/mbd888/bakehouse/internal/logging"
	"github.com/mbd888/bakehouse/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print build info and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("bakehouse %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	if err := run(); err != nil {
		slog.Error("bakehouse exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting bakehouse",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"paystack_base_url", cfg.PaystackBaseURL,
		"plan_sync_interval", cfg.PlanSyncInterval,
		"smtp", cfg.SMTPEnabled(),
		"persistent", cfg.DatabaseURL != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(context.Background())
}
