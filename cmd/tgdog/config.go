package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tgdog/internal/config"
	"tgdog/internal/ipc"
)

// configCmd validates the configuration and reports daemon status.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate configuration",
	Run: func(cmd *cobra.Command, args []string) {
		path := rootConfigPath
		if path == "" {
			path = "./config.toml"
		}

		cfg, err := config.Load(path)
		if err != nil {
			fail(err)
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			fmt.Fprintln(os.Stderr, "configuration validation failed:")
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  - %v\n", e)
			}
			os.Exit(1)
		}

		fmt.Printf("config ok: %d profile(s), %d task(s)\n", len(cfg.Profiles), len(cfg.Tasks))
		fmt.Printf("socket: %s\n", cfg.Daemon.Socket)

		if ipc.Reachable(cfg.Daemon.Socket, 2*time.Second) {
			fmt.Println("daemon: running")
			if secure, err := ipc.SocketSecure(cfg.Daemon.Socket); err == nil && !secure {
				fmt.Println("warning: socket permissions are not restricted to owner")
			}
		} else {
			fmt.Println("daemon: not running")
		}
	},
}
