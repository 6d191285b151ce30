package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	submitName     string
	submitDepends  []string
	submitStoreDir string
)

// NewSubmitCmd returns the command that appends a job to a queue.
func NewSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <queue-name> -- <command>...",
		Short: "Submit a job to a queue",
		Long: `Append a shell command to a queue definition.

End the options with -- and then give the full command:

  cmdq submit my-queue -- echo "hello world"
  cmdq submit my-queue --name fit --depends prep -- python fit.py`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := NewStore(submitStoreDir)
			if err != nil {
				return err
			}
			qname := args[0]
			command := strings.Join(args[1:], " ")
			row := Row{Type: "command", Command: command, Name: submitName, Depends: submitDepends}
			if err := store.Append(qname, row); err != nil {
				return err
			}
			fmt.Printf("queued: %s\n", command)
			return nil
		},
	}
	cmd.Flags().StringVar(&submitName, "name", "", "Name of the new job")
	cmd.Flags().StringSliceVar(&submitDepends, "depends", nil, "Names of jobs this job depends on")
	cmd.Flags().StringVar(&submitStoreDir, "dpath", "", "Override the directory used to store queue definitions")
	return cmd
}
