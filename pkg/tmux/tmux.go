// Package tmux wraps the small set of tmux verbs cmdq needs to drive
// detached worker sessions: list, create, send-keys, capture-pane, kill.
package tmux

import (
	"fmt"
	"strings"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

// Session describes one entry of `tmux list-sessions`.
type Session struct {
	ID   string
	Rest string
}

// Client drives a tmux server through a CommandExecutor so tests can
// substitute a mock.
type Client struct {
	Exec exec.CommandExecutor
}

// NewClient returns a Client backed by the real command executor.
func NewClient() *Client {
	return &Client{Exec: &exec.RealCommandExecutor{}}
}

// IsAvailable reports whether the tmux binary is on PATH.
func (c *Client) IsAvailable() bool {
	_, err := c.Exec.LookPath("tmux")
	return err == nil
}

// ListSessions returns the currently running sessions. A missing server
// (tmux exits non-zero when no sessions exist) yields an empty list.
func (c *Client) ListSessions() ([]Session, error) {
	out, err := c.Exec.Output("tmux", "list-sessions")
	if err != nil {
		// "no server running" is not an error for our purposes
		return nil, nil
	}
	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		sessions = append(sessions, Session{ID: id, Rest: rest})
	}
	return sessions, nil
}

// NewSession starts a new detached session running a bash shell.
func (c *Client) NewSession(id string) error {
	if err := c.Exec.Execute("tmux", "new-session", "-d", "-s", id, "bash"); err != nil {
		return fmt.Errorf("create tmux session %s: %w", id, err)
	}
	return nil
}

// SendKeys sends text to a session followed by a literal Enter keystroke.
func (c *Client) SendKeys(id string, text string) error {
	if err := c.Exec.Execute("tmux", "send-keys", "-t", id, text, "Enter"); err != nil {
		return fmt.Errorf("send keys to tmux session %s: %w", id, err)
	}
	return nil
}

// CapturePane returns the visible pane contents of a session as text.
func (c *Client) CapturePane(id string) (string, error) {
	out, err := c.Exec.Output("tmux", "capture-pane", "-p", "-t", id+":0.0")
	if err != nil {
		return "", fmt.Errorf("capture tmux pane %s: %w", id, err)
	}
	return out, nil
}

// KillSession kills a session by id.
func (c *Client) KillSession(id string) error {
	if err := c.Exec.Execute("tmux", "kill-session", "-t", id); err != nil {
		return fmt.Errorf("kill tmux session %s: %w", id, err)
	}
	return nil
}
