package queue

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// OutputStyle selects how emitted scripts and tables are rendered.
// It is resolved once at the API boundary; call sites never branch on
// the availability of optional terminal features.
type OutputStyle int

const (
	StylePlain OutputStyle = iota
	StyleColors
	StyleRich
)

// ResolveStyle maps a user-supplied style name to an OutputStyle.
// "auto" picks rich on a terminal and plain otherwise.
func ResolveStyle(name string) (OutputStyle, error) {
	switch name {
	case "plain":
		return StylePlain, nil
	case "colors":
		return StyleColors, nil
	case "rich":
		return StyleRich, nil
	case "", "auto":
		if isatty.IsTerminal(os.Stdout.Fd()) {
			return StyleRich, nil
		}
		return StylePlain, nil
	default:
		return StylePlain, fmt.Errorf("unknown style %q", name)
	}
}

var richPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1)

// printCode prints an emitted script with a title, honoring the style.
func printCode(title, code string, style OutputStyle) {
	switch style {
	case StyleRich:
		header := lipgloss.NewStyle().Bold(true).Render(title)
		fmt.Println(header)
		fmt.Println(richPanel.Render(code))
	case StyleColors:
		color.New(color.FgYellow).Printf("# --- %s\n", title)
		fmt.Println(code)
	default:
		fmt.Printf("# --- %s\n", title)
		fmt.Println(code)
	}
}
