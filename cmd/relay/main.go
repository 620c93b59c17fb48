package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/video2commons/relay/config"
	"github.com/video2commons/relay/providers"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "v2c-relay",
		Short:   "Realtime task-status relay for video2commons",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("load config")
		return err
	}

	app := providers.NewApp(cfg, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		app.Stop()
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("relay exited")
		}
		return err
	}
}
