package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdq-dev/cmdq/pkg/queue"
	"github.com/cmdq-dev/cmdq/pkg/tmux"
)

var cleanupYes bool

// NewCleanupCmd returns the command that kills leftover cmdq tmux
// sessions. Useful when jobs are failing and sessions pile up.
func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Kill leftover cmdq tmux sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := tmux.NewClient()
			sessions, err := client.ListSessions()
			if err != nil {
				return err
			}
			var ids []string
			for _, session := range sessions {
				if strings.HasPrefix(session.ID, "cmdq_") {
					ids = append(ids, session.ID)
				}
			}
			if len(ids) == 0 {
				fmt.Println("no cmdq sessions found")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			if !cleanupYes && !queue.ConfirmPrompt("Do you want to kill these?") {
				return nil
			}
			for _, id := range ids {
				if err := client.KillSession(id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Say yes to prompts")
	return cmd
}
