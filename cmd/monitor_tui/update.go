package monitor_tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statesMsg:
		m.Workers = msg.workers
		m.Agg = msg.agg
		m.Finished = msg.finished
		m.Table.SetRows(rowsFromStates(m.Workers, m.Agg))
		if m.Finished {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Kill):
			m.Killing = true
			if m.killFn != nil {
				_ = m.killFn()
			}
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}
