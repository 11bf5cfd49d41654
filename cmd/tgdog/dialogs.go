package main

import (
	"github.com/spf13/cobra"

	"tgdog/internal/action"
)

var (
	dialogsProfile string
	dialogsLimit   int
)

// dialogsCmd is shorthand for `run list_dialogs`.
var dialogsCmd = &cobra.Command{
	Use:   "dialogs",
	Short: "List recent dialogs",
	Run: func(cmd *cobra.Command, args []string) {
		executeRequest(action.Request{
			Action:  "list_dialogs",
			Profile: dialogsProfile,
			Payload: map[string]any{"limit": dialogsLimit},
		})
	},
}

func init() {
	dialogsCmd.Flags().StringVarP(&dialogsProfile, "profile", "p", "", "Profile to act as")
	dialogsCmd.Flags().IntVarP(&dialogsLimit, "limit", "n", 30, "Maximum number of dialogs")
}
