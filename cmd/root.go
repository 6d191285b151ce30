package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd returns the cmdq root command with all verbs configured.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cmdq",
		Short: "Build, execute, and manage shell-command DAGs",
		Long: `cmdq builds queues of shell commands with named dependencies and
materializes them into executable artifacts: a single status-tracking
bash script, a set of coordinated scripts launched in parallel tmux
sessions, or a slurm submission script.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewNewCmd())
	rootCmd.AddCommand(NewSubmitCmd())
	rootCmd.AddCommand(NewShowCmd())
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewListCmd())
	rootCmd.AddCommand(NewCleanupCmd())
	rootCmd.AddCommand(NewBackendsCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
