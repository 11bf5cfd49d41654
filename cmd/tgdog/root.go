package main

import (
	"github.com/spf13/cobra"
)

var rootConfigPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tgdog",
	Short: "tgdog - Telegram userbot control daemon",
	Long: `tgdog runs a local daemon that holds authenticated Telegram
connections, serves actions over a unix socket and fires scheduled
tasks. The same binary doubles as the client: subcommands talk to the
daemon when one is running and fall back to an in-process execution
path when it is not.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "", "Path to configuration file (default: ./config.toml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(dialogsCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
