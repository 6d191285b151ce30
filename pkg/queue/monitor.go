package queue

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

const defaultRefresh = 400 * time.Millisecond

// ProgressView renders monitor progress. The queue holds one reference
// and never branches on the availability of terminal features at call
// sites; resolution happens once when the view is constructed.
type ProgressView interface {
	Render(workers []WorkerState, agg WorkerState, finished bool)
	Close()
}

// NopView discards progress updates.
type NopView struct{}

func (NopView) Render([]WorkerState, WorkerState, bool) {}
func (NopView) Close()                                  {}

// LiveTable renders a live-updating status table in a plain terminal
// region, redrawing in place on every refresh.
type LiveTable struct {
	out       *termenv.Output
	colorize  bool
	lastLines int
}

// NewLiveTable builds the simple live view. Colors follow the style.
func NewLiveTable(style OutputStyle) *LiveTable {
	return &LiveTable{
		out:      termenv.NewOutput(os.Stdout),
		colorize: style != StylePlain,
	}
}

func (v *LiveTable) Render(workers []WorkerState, agg WorkerState, finished bool) {
	rows := make([]WorkerState, 0, len(workers)+1)
	rows = append(rows, workers...)
	if len(workers) > 1 {
		rows = append(rows, agg)
	}
	text := renderStateTable(rows, v.colorize)
	for i := 0; i < v.lastLines; i++ {
		v.out.CursorUp(1)
		v.out.ClearLine()
	}
	fmt.Fprint(v.out, text)
	v.lastLines = strings.Count(text, "\n")
}

func (v *LiveTable) Close() {
	v.lastLines = 0
}

// renderStateTable formats worker states into a fixed-width table with
// columns (name, status, passed, failed, skipped, total).
func renderStateTable(rows []WorkerState, colorize bool) string {
	header := []string{"name", "status", "passed", "failed", "skipped", "total"}
	cells := [][]string{header}
	for _, s := range rows {
		cells = append(cells, []string{
			s.Name, s.Status,
			fmt.Sprint(s.Passed), fmt.Sprint(s.Failed),
			fmt.Sprint(s.Skipped), fmt.Sprint(s.Total),
		})
	}
	widths := make([]int, len(header))
	for _, row := range cells {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	var b strings.Builder
	for rowIdx, row := range cells {
		padded := make([]string, len(row))
		for i, cell := range row {
			padded[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		if colorize && rowIdx > 0 {
			state := rows[rowIdx-1]
			if state.Status == "done" {
				padded[2] = color.GreenString(padded[2])
			}
			if state.Failed > 0 {
				padded[3] = color.RedString(padded[3])
			}
			if state.Skipped > 0 {
				padded[4] = color.YellowString(padded[4])
			}
		}
		b.WriteString(strings.Join(padded, "  "))
		b.WriteString("\n")
	}
	return b.String()
}

// monitorLoop polls worker states until every worker reports done.
// A keyboard interrupt prompts for cancellation; acceptance invokes the
// backend's kill function, then the loop exits cleanly.
func monitorLoop(read func() ([]WorkerState, error), view ProgressView,
	refresh time.Duration, confirm func(string) bool, kill func() error) (AggregateState, error) {

	if refresh <= 0 {
		refresh = defaultRefresh
	}
	if view == nil {
		view = NopView{}
	}
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt)
	defer signal.Stop(sigch)

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		states, err := read()
		if err != nil {
			view.Close()
			return AggregateState{}, err
		}
		agg, finished := aggregateStates(states)
		view.Render(states, agg, finished)
		if finished {
			view.Close()
			return AggregateState{WorkerState: agg, Workers: states}, nil
		}
		select {
		case <-ticker.C:
		case <-sigch:
			view.Close()
			if confirm == nil || confirm("do you want to kill the procs?") {
				if kill != nil {
					if err := kill(); err != nil {
						return AggregateState{WorkerState: agg, Workers: states}, err
					}
				}
			}
			return AggregateState{WorkerState: agg, Workers: states}, nil
		}
	}
}

// hasStdin reports whether stdin is an interactive terminal.
func hasStdin() bool {
	return isatty.IsTerminal(os.Stdin.Fd())
}

// ConfirmPrompt asks a yes/no question on the terminal. Without a
// terminal the answer defaults to no.
func ConfirmPrompt(msg string) bool {
	if !hasStdin() {
		return false
	}
	fmt.Printf("%s [y/N]: ", msg)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
