package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

// AvailableBackends probes the host and returns the backends that can
// actually run here. The serial backend is always available.
func AvailableBackends(execr exec.CommandExecutor) []string {
	available := []string{"serial"}
	if _, err := execr.LookPath("tmux"); err == nil {
		available = append(available, "tmux")
	}
	if SlurmAvailable(execr) {
		available = append(available, "slurm")
	}
	return available
}

// SlurmAvailable reports whether a usable slurm installation exists:
// the squeue client on PATH, a running slurmd daemon, a working queue
// listing, and (when the installed version exposes a JSON info endpoint)
// at least one node that is not down.
func SlurmAvailable(execr exec.CommandExecutor) bool {
	if _, err := execr.LookPath("squeue"); err != nil {
		return false
	}
	if !slurmdRunning() {
		return false
	}
	if err := execr.Execute("squeue"); err != nil {
		return false
	}
	major, err := sinfoMajorVersion(execr)
	if err != nil {
		return false
	}
	if major < 21 {
		// The --json flag does not exist yet; skip the node check.
		return true
	}
	return hasWorkingNodes(execr, major)
}

func slurmdRunning() bool {
	procs, err := process.Processes()
	if err != nil {
		return false
	}
	for _, p := range procs {
		if name, err := p.Name(); err == nil && name == "slurmd" {
			return true
		}
	}
	return false
}

// sinfoMajorVersion parses `sinfo --version` output like "slurm 23.02.7".
func sinfoMajorVersion(execr exec.CommandExecutor) (int, error) {
	out, err := execr.Output("sinfo", "--version")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 2 {
		return 0, fmt.Errorf("unexpected sinfo version output %q", out)
	}
	major, err := strconv.Atoi(strings.SplitN(fields[1], ".", 2)[0])
	if err != nil {
		return 0, fmt.Errorf("unexpected sinfo version %q: %w", fields[1], err)
	}
	return major, nil
}

// hasWorkingNodes checks the JSON node listing for at least one node
// whose state does not read as down. The JSON endpoint moved between
// slurm releases: v21 exposes it on scontrol, later versions on sinfo.
func hasWorkingNodes(execr exec.CommandExecutor, major int) bool {
	var out string
	var err error
	if major > 21 {
		out, err = execr.Output("sinfo", "--json")
	} else {
		out, err = execr.Output("scontrol", "show", "nodes", "--json")
	}
	if err != nil {
		return false
	}
	var payload struct {
		Nodes []struct {
			// State is a string in older releases and a list of state
			// flags in newer ones.
			State any `json:"state"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return false
	}
	for _, node := range payload.Nodes {
		state := strings.ToLower(fmt.Sprint(node.State))
		if !strings.Contains(state, "down") {
			return true
		}
	}
	return false
}
