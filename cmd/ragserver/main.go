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

	"github.com/wisbric/ragserver/internal/app"
	"github.com/wisbric/ragserver/internal/config"
)

func main() {
	noCheck := flag.Bool("no-check", false, "skip startup validators (never skips request middleware)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if !*noCheck {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid configuration: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		if errors.Is(err, app.ErrBindFailure) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
