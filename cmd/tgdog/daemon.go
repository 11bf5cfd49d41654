package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tgdog/internal/config"
	"tgdog/internal/daemon"
	"tgdog/internal/logger"
)

var daemonLogLevel string

// daemonCmd starts the long-running daemon process.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the tgdog daemon",
	Long: `Start the daemon: bind the control socket, connect configured
profiles on demand and fire scheduled tasks. SIGINT/SIGTERM triggers a
graceful shutdown.`,
	Run: daemonHandler,
}

func daemonHandler(cmd *cobra.Command, args []string) {
	envFile := "./.env"
	if _, err := os.Stat(envFile); err == nil {
		if err := config.LoadEnv(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
		}
	}

	cfg, log := mustLoadConfig()
	if daemonLogLevel != "" {
		cfg.Logging.Level = daemonLogLevel
	}

	log.Info("starting tgdog daemon",
		logger.Field{Key: "version", Value: Version},
		logger.Field{Key: "git_commit", Value: GitCommit},
		logger.Field{Key: "socket", Value: cfg.Daemon.Socket})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, log)
	if err := d.Run(ctx); err != nil {
		log.Error("daemon failed", err)
		os.Exit(1)
	}

	log.Info("daemon stopped gracefully")
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonLogLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
}
