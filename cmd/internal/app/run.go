package app

import (
	"context"
	"io"
	"os/signal"
	"syscall"
)

// Options are the command-line overrides accepted by cmd/chatbot.
type Options struct {
	EnvFile         string
	EnvFileRequired bool
	LogLevel        string
	LogFormat       string

	// OperatorInput, when set, lets an operator skip the bootstrap wait by
	// sending a line (usually stdin).
	OperatorInput io.Reader
}

// Run is the CLI entrypoint used by cmd/chatbot.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(opts Options) error {
	if err := LoadEnvFile(opts.EnvFile, opts.EnvFileRequired); err != nil {
		return err
	}

	cfg := LoadConfig()
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log, WithOperatorInput(opts.OperatorInput))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
