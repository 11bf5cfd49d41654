package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tgdog/internal/action"
	"tgdog/internal/plugin"
)

var (
	pluginProfile string
	pluginCLI     bool
)

// pluginCmd runs and manages plugins.
var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Run and manage plugins",
}

var pluginRunCmd = &cobra.Command{
	Use:   "run <name> [args...]",
	Short: "Run a plugin",
	Long: `Run a plugin by name. By default the plugin runs in code mode
and its JSON result prints to stdout; --cli attaches the plugin to this
terminal instead.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := "plugin"
		if pluginCLI {
			name = "plugin_cli"
		}
		executeRequest(action.Request{
			Action:  name,
			Profile: pluginProfile,
			Payload: map[string]any{"plugin": args[0]},
			Args:    args[1:],
		})
	},
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, log := mustLoadConfig()
		registry := plugin.NewRegistry(cfg.Plugins.Dir, cfg.Plugins.StateFile, log)
		for _, name := range registry.List() {
			status := "enabled"
			if !registry.Enabled(name) {
				status = "disabled"
			}
			fmt.Printf("%s\t%s\n", name, status)
		}
	},
}

var pluginEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a plugin",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setPluginEnabled(args[0], true) },
}

var pluginDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a plugin",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setPluginEnabled(args[0], false) },
}

func setPluginEnabled(name string, enabled bool) {
	cfg, log := mustLoadConfig()
	registry := plugin.NewRegistry(cfg.Plugins.Dir, cfg.Plugins.StateFile, log)
	if err := registry.SetEnabled(name, enabled); err != nil {
		fail(err)
	}
}

func init() {
	pluginRunCmd.Flags().StringVarP(&pluginProfile, "profile", "p", "", "Profile to act as")
	pluginRunCmd.Flags().BoolVar(&pluginCLI, "cli", false, "Attach the plugin to this terminal")

	pluginCmd.AddCommand(pluginRunCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)
}
