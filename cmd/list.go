package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listStoreDir string

// NewListCmd returns the command that displays available queues.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Display available queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := NewStore(listStoreDir)
			if err != nil {
				return err
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listStoreDir, "dpath", "", "Override the directory used to store queue definitions")
	return cmd
}
