package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cmdq-dev/cmdq/pkg/queue"
)

var (
	showBackend  string
	showWorkers  int
	showStyle    string
	showPipeline string
	showStoreDir string
)

// NewShowCmd returns the command that displays a queue's scripts and
// dependency graph without running anything.
func NewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [queue-name]",
		Short: "Display the generated scripts and graph for a queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qname := ""
			if len(args) > 0 {
				qname = args[0]
			}
			q, err := buildQueue(qname, showBackend, showWorkers, showStoreDir, showPipeline)
			if err != nil {
				return err
			}
			style, err := queue.ResolveStyle(showStyle)
			if err != nil {
				return err
			}
			if err := q.PrintCommands(queueEmitAll, style); err != nil {
				return err
			}
			return q.PrintGraph(true)
		},
	}
	cmd.Flags().StringVar(&showBackend, "backend", "tmux", "Execution backend: serial, tmux, or slurm")
	cmd.Flags().IntVar(&showWorkers, "workers", 1, "Number of concurrent workers for the tmux backend")
	cmd.Flags().StringVar(&showStyle, "style", "auto", "Output style: plain, colors, rich, or auto")
	cmd.Flags().StringVarP(&showPipeline, "file", "f", "", "Build the queue from a pipeline YAML file instead of a stored definition")
	cmd.Flags().StringVar(&showStoreDir, "dpath", "", "Override the directory used to store queue definitions")
	return cmd
}
