package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmdq-dev/cmdq/pkg/exec"
	"github.com/cmdq-dev/cmdq/pkg/queue"
)

// NewBackendsCmd returns the command that probes the host for usable
// execution backends.
func NewBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the execution backends available on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, backend := range queue.AvailableBackends(&exec.RealCommandExecutor{}) {
				fmt.Println(backend)
			}
			return nil
		},
	}
}
