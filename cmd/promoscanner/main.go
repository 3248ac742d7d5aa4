package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"PromoScanner/internal/app"
	"PromoScanner/internal/config"
	"PromoScanner/internal/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single pipeline cycle and exit")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if *once {
		err = application.Run(ctx)
	} else {
		err = application.RunDaemon(ctx)
	}
	if err != nil && err != context.Canceled {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
