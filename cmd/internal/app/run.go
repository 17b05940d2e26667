package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the process entrypoint: config, logger, wiring, then serve until
// SIGINT/SIGTERM. Any returned error should terminate the process non-zero.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}
