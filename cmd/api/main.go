package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"evoting/internal/app/bootstrap"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const programName = "evoting-api"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

func commonRun() *slog.Logger {
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return logger
}

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (ports + adapters + use cases).
// 3) Serve HTTP until SIGINT/SIGTERM.
func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Serve the ballot HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := commonRun()
			app, err := bootstrap.BuildAPI(configFile, logger)
			if err != nil {
				return fmt.Errorf("bootstrap api failed: %w", err)
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Error("api shutdown close failed", "error", err.Error())
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
