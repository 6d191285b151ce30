package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cmdq-dev/cmdq/pkg/queue"
)

// NewVersionCmd returns the command that prints version information.
func NewVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version information for this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				data, err := json.Marshal(map[string]string{"version": queue.Version})
				if err != nil {
					return fmt.Errorf("marshal version info: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("cmdq %s\n", queue.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information in JSON format")
	return cmd
}
