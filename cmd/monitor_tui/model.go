package monitor_tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cmdq-dev/cmdq/pkg/queue"
)

// statesMsg carries a fresh snapshot of worker states into the program.
type statesMsg struct {
	workers  []queue.WorkerState
	agg      queue.WorkerState
	finished bool
}

// Model represents the state of the monitor TUI.
type Model struct {
	Table    table.Model
	Workers  []queue.WorkerState
	Agg      queue.WorkerState
	Finished bool
	Killing  bool
	killFn   func() error
}

// NewModel builds the initial model.
func NewModel(killFn func() error) Model {
	columns := []table.Column{
		{Title: "name", Width: 32},
		{Title: "status", Width: 10},
		{Title: "passed", Width: 8},
		{Title: "failed", Width: 8},
		{Title: "skipped", Width: 8},
		{Title: "total", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	return Model{Table: t, killFn: killFn}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// rowsFromStates converts worker states into table rows, with an
// aggregate row when more than one worker exists.
func rowsFromStates(workers []queue.WorkerState, agg queue.WorkerState) []table.Row {
	rows := make([]table.Row, 0, len(workers)+1)
	add := func(s queue.WorkerState) {
		rows = append(rows, table.Row{
			s.Name, s.Status,
			fmt.Sprint(s.Passed), fmt.Sprint(s.Failed),
			fmt.Sprint(s.Skipped), fmt.Sprint(s.Total),
		})
	}
	for _, s := range workers {
		add(s)
	}
	if len(workers) > 1 {
		add(agg)
	}
	return rows
}
