package cmd

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cmdq-dev/cmdq/cmd/monitor_tui"
	"github.com/cmdq-dev/cmdq/pkg/queue"
)

var (
	runBackend   string
	runWorkers   int
	runStyle     string
	runPipeline  string
	runStoreDir  string
	runDetach    bool
	runSessions  string
	runRefreshMS int
)

// NewRunCmd returns the command that executes a queue.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [queue-name]",
		Short: "Run a queue",
		Long: `Execute a queue on the selected backend.

  cmdq run my-queue --backend serial
  cmdq run my-queue --backend tmux --workers 4
  cmdq run --file pipeline.yaml --backend slurm`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qname := ""
			if len(args) > 0 {
				qname = args[0]
			}
			q, err := buildQueue(qname, runBackend, runWorkers, runStoreDir, runPipeline)
			if err != nil {
				return err
			}
			style, err := queue.ResolveStyle(runStyle)
			if err != nil {
				return err
			}
			var view queue.ProgressView
			if runBackend != "serial" && style == queue.StyleRich && !runDetach && isatty.IsTerminal(os.Stdin.Fd()) {
				view = monitor_tui.NewApp(q.Kill)
			}
			return q.Run(queue.RunOptions{
				Block:         !runDetach,
				SessionPolicy: runSessions,
				Style:         style,
				Refresh:       time.Duration(runRefreshMS) * time.Millisecond,
				View:          view,
			})
		},
	}
	cmd.Flags().StringVar(&runBackend, "backend", "tmux", "Execution backend: serial, tmux, or slurm")
	cmd.Flags().IntVar(&runWorkers, "workers", 1, "Number of concurrent workers for the tmux backend")
	cmd.Flags().StringVar(&runStyle, "style", "auto", "Output style: plain, colors, rich, or auto")
	cmd.Flags().StringVarP(&runPipeline, "file", "f", "", "Build the queue from a pipeline YAML file instead of a stored definition")
	cmd.Flags().StringVar(&runStoreDir, "dpath", "", "Override the directory used to store queue definitions")
	cmd.Flags().BoolVar(&runDetach, "detach", false, "Launch without blocking on the monitor")
	cmd.Flags().StringVar(&runSessions, "other-sessions", "auto", "Conflicting tmux session policy: ask, kill, ignore, or auto")
	cmd.Flags().IntVar(&runRefreshMS, "refresh-ms", 400, "Monitor refresh interval in milliseconds")
	return cmd
}
