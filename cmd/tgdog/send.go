package main

import (
	"github.com/spf13/cobra"

	"tgdog/internal/action"
)

var (
	sendProfile string
	sendWait    bool
	sendTimeout int
)

// sendCmd is shorthand for `run send`.
var sendCmd = &cobra.Command{
	Use:   "send <target> <text>",
	Short: "Send a message",
	Long: `Send a text message to a chat. With --wait the command uses
interactive_send and prints the first reply from the target.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name := "send"
		payload := map[string]any{"text": args[1]}
		if sendWait {
			name = "interactive_send"
			payload["timeout"] = sendTimeout
		}
		executeRequest(action.Request{
			Action:  name,
			Profile: sendProfile,
			Target:  args[0],
			Payload: payload,
		})
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendProfile, "profile", "p", "", "Profile to act as")
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "Wait for a reply from the target")
	sendCmd.Flags().IntVar(&sendTimeout, "reply-timeout", 30, "Seconds to wait for the reply with --wait")
}
