package monitor_tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	baseStyle  = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	footerStyle = lipgloss.NewStyle().Faint(true).MarginTop(1)
)

// View implements tea.Model.
func (m Model) View() string {
	title := titleStyle.Render("cmdq monitor")
	footer := footerStyle.Render("q: quit  k: kill all workers")
	return title + "\n" + baseStyle.Render(m.Table.View()) + "\n" + footer
}
