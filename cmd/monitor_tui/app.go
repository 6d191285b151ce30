package monitor_tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cmdq-dev/cmdq/pkg/queue"
)

// App is the full-screen ProgressView variant. The bubbletea program
// runs in its own goroutine; Render pushes state snapshots into it and
// Close shuts it down.
type App struct {
	program *tea.Program
	done    chan struct{}
}

var _ queue.ProgressView = (*App)(nil)

// NewApp starts the monitor program.
func NewApp(killFn func() error) *App {
	program := tea.NewProgram(NewModel(killFn), tea.WithAltScreen())
	app := &App{program: program, done: make(chan struct{})}
	go func() {
		defer close(app.done)
		_, _ = program.Run()
	}()
	return app
}

// Render implements queue.ProgressView.
func (a *App) Render(workers []queue.WorkerState, agg queue.WorkerState, finished bool) {
	a.program.Send(statesMsg{workers: workers, agg: agg, finished: finished})
}

// Close implements queue.ProgressView.
func (a *App) Close() {
	a.program.Quit()
	<-a.done
}
