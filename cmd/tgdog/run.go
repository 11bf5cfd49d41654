package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tgdog/internal/action"
	"tgdog/internal/backoff"
	"tgdog/internal/config"
	"tgdog/internal/ipc"
	"tgdog/internal/logger"
	"tgdog/internal/plugin"
	"tgdog/internal/pool"
	"tgdog/internal/telegram"
)

var (
	runProfile string
	runTarget  string
	runPayload string
	runMode    string
	runTimeout time.Duration
)

// runCmd issues one action, through the daemon when it is reachable.
var runCmd = &cobra.Command{
	Use:   "run <action>",
	Short: "Execute one action",
	Long: `Execute a single action such as send, list, download or export.
The request goes to the running daemon over its socket; if no daemon
answers, the same action executes in-process with a one-shot
connection.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := map[string]any{}
		if runPayload != "" {
			if err := json.Unmarshal([]byte(runPayload), &payload); err != nil {
				fail(fmt.Errorf("invalid --payload JSON: %w", err))
			}
		}
		req := action.Request{
			Action:  args[0],
			Profile: runProfile,
			Target:  runTarget,
			Payload: payload,
			Mode:    runMode,
		}
		executeRequest(req)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "Profile to act as (default: configured default_profile)")
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "Target chat: numeric ID or @username")
	runCmd.Flags().StringVar(&runPayload, "payload", "", "Action payload as a JSON object")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Plugin execution mode: code or cli")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", ipc.DefaultTimeout, "IPC request timeout")
}

// mustLoadConfig loads and validates the configured (or default) config
// file, exiting on failure.
func mustLoadConfig() (*config.Config, *logger.Logger) {
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

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fail(err)
	}
	return cfg, log
}

// executeRequest sends req to the daemon; when the daemon is unreachable
// it falls back to an equivalent in-process execution. Either way the
// result prints to stdout and failures exit nonzero.
func executeRequest(req action.Request) {
	cfg, log := mustLoadConfig()

	resp, err := ipc.Request(cfg.Daemon.Socket, req, runTimeout)
	if err != nil {
		log.Debug("daemon unreachable, executing in-process",
			logger.Field{Key: "socket", Value: cfg.Daemon.Socket},
			logger.Field{Key: "error", Value: err})
		resp = executeLocal(cfg, log, req)
	}

	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Error)
		os.Exit(1)
	}
	printResult(resp.Result)
}

// executeLocal runs req with a short-lived connection, mirroring the
// daemon's dispatch path.
func executeLocal(cfg *config.Config, log *logger.Logger, req action.Request) action.Response {
	exec := backoff.New(cfg.Backoff.MaxRetries, log)
	dialer := telegram.NewBotDialer(cfg.Daemon.SessionDir, log)
	connections := pool.New(cfg, dialer, log)
	defer connections.Close()

	plugins := plugin.NewRegistry(cfg.Plugins.Dir, cfg.Plugins.StateFile, log)
	dispatcher := action.New(cfg, connections, exec, plugins, nil, log)

	return dispatcher.Handle(context.Background(), req)
}

func printResult(result any) {
	if result == nil {
		fmt.Println("ok")
		return
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Println(result)
		return
	}
	fmt.Println(string(data))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
