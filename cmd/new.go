package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	newHeader   string
	newStoreDir string
)

// NewNewCmd returns the command that creates a new CLI queue.
func NewNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <queue-name>",
		Short: "Create a new queue",
		Long: `Create a new queue definition.

If you are working in a virtualenv, pass a header command to activate it
in every worker session:

  cmdq new my-queue --header "source .venv/bin/activate"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := NewStore(newStoreDir)
			if err != nil {
				return err
			}
			var rows []Row
			if newHeader != "" {
				rows = append(rows, Row{Type: "header", Header: newHeader})
			}
			if err := store.Write(args[0], rows); err != nil {
				return err
			}
			fmt.Printf("created queue %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&newHeader, "header", "", "A header command to execute in every session (e.g. activating a virtualenv)")
	cmd.Flags().StringVar(&newStoreDir, "dpath", "", "Override the directory used to store queue definitions")
	return cmd
}
