// Command cvctl loads CVs into the indexes and asks questions from the shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cv-screener/internal/app"
	"cv-screener/internal/config"
)

func main() {
	root := newRootCmd(openApp)
	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp loads configuration from the environment and wires the pipeline.
// CLI logs go to stderr so command output stays parseable.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}
