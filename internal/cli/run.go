package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skypro1111/radio-recorder/internal/config"
	"github.com/skypro1111/radio-recorder/internal/recorder"
	"github.com/skypro1111/radio-recorder/internal/version"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured networks and record until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecorder(ctx, cmd, flags)
		},
	}
}

func runRecorder(ctx context.Context, cmd *cobra.Command, flags *globalFlags) error {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return err
	}

	cfg, loadErr := config.Load(flags.configPath)
	if cfg == nil {
		return loadErr
	}

	logger, closer := newLogger(cfg.Logging, cmd.OutOrStdout(), cmd.ErrOrStderr())
	defer closer.Close()

	for _, skipped := range cfg.Skipped {
		logger.Warn("Skipping network entry", slog.String("error", skipped.Error()))
	}
	if loadErr != nil {
		logger.Error("Failed to load configuration", slog.String("error", loadErr.Error()))
		return loadErr
	}

	logger.Info("Service starting",
		slog.String("version", version.Version),
		slog.String("config_path", flags.configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("base_directory", cfg.BaseDirectory),
		slog.Int("networks", len(cfg.Networks)),
		slog.Duration("idle_timeout", cfg.Recording.GetIdleTimeout()),
		slog.Duration("sweep_interval", cfg.Recording.GetSweepInterval()),
		slog.Duration("stagger_delay", cfg.GetStaggerDelay()),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	svc, err := recorder.New(cfg, logger, recorder.Options{Version: version.Version})
	if err != nil {
		logger.Error("Failed to create recorder", slog.String("error", err.Error()))
		return err
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error("Recorder stopped with errors", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Service stopped")
	return nil
}
