package app

import (
	"context"
	"errors"
	"io/fs"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// Run is the CLI entrypoint used by cmd/huddle. It returns an error instead
// of calling os.Exit to keep defers effective.
func Run() error {
	// Local development convenience; a missing .env is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
