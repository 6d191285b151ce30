package queue

import (
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

// SerialQueue is a linear job queue written to a single bash file.
//
// Jobs are emitted in a topological order that stays as close to the
// submission order as the dependencies allow, with status bookkeeping
// and dependency gates around every job.
type SerialQueue struct {
	queueBase

	dpath      string
	fpath      string
	stateFpath string
	cwd        string
	execr      exec.CommandExecutor
}

// NewSerialQueue creates an empty serial queue.
func NewSerialQueue(opts CreateOptions) *SerialQueue {
	q := &SerialQueue{
		queueBase: newQueueBase(opts.Name, opts.RootID, opts.Environ),
		execr:     opts.executor(),
	}
	q.dpath = opts.Dpath
	if q.dpath == "" {
		q.dpath = filepath.Join(defaultAppDir(), "serial", q.PathID())
	}
	q.fpath = filepath.Join(q.dpath, q.PathID()+".sh")
	q.stateFpath = filepath.Join(q.dpath, "serial_queue_"+q.PathID()+".txt")
	return q
}

// SetCwd changes the working directory before any job runs.
func (q *SerialQueue) SetCwd(cwd string) { q.cwd = cwd }

// ScriptPath returns where the generated script is written.
func (q *SerialQueue) ScriptPath() string { return q.fpath }

// StatePath returns where the generated script dumps its queue state.
func (q *SerialQueue) StatePath() string { return q.stateFpath }

// Jobs returns the submitted jobs in submission order.
func (q *SerialQueue) Jobs() []*Job { return q.jobs }

// Submit appends a job built from a shell command.
func (q *SerialQueue) Submit(command string, opts SubmitOptions) (*Job, error) {
	job, err := q.buildJob(command, opts)
	if err != nil {
		return nil, err
	}
	job.InfoDir = filepath.Join(q.dpath, "job_info", job.PathID)
	if err := q.appendJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// submitExisting appends an already-constructed job (planner use).
func (q *SerialQueue) submitExisting(job *Job) error {
	return q.appendJob(job)
}

// orderJobs reorders the job list topologically while preserving the
// submission order wherever the dependencies already allow it.
func (q *SerialQueue) orderJobs() error {
	dg, err := q.graph()
	if err != nil {
		return err
	}
	q.jobs = dg.TopologicalOrder()
	return nil
}

// FinalizeText renders the bash script that runs every job in this
// queue, tracks the results, and prevents jobs with unmet dependencies
// from running.
func (q *SerialQueue) FinalizeText(opts EmitOptions) (string, error) {
	if err := q.orderJobs(); err != nil {
		return "", err
	}
	script := []string{"#!/bin/bash"}
	script = append(script, fmt.Sprintf("# Written by cmdq %s", Version))

	total := q.numRealJobs

	if opts.WithGuards {
		script = append(script, "set -e")
	}
	if opts.WithStatus {
		script = append(script,
			"# Init state to keep track of job progress",
			`(( "_CMD_QUEUE_NUM_FAILED=0" )) || true`,
			`(( "_CMD_QUEUE_NUM_PASSED=0" )) || true`,
			`(( "_CMD_QUEUE_NUM_SKIPPED=0" )) || true`,
			fmt.Sprintf("_CMD_QUEUE_TOTAL=%d", total),
			`_CMD_QUEUE_STATUS=""`,
		)
	}

	oldStatus := ""
	markStatus := func(status string) {
		if !opts.WithStatus {
			return
		}
		if oldStatus != status {
			script = append(script, fmt.Sprintf("_CMD_QUEUE_STATUS=%q", status))
		}
		oldStatus = status
		parts := []jsonFmtPart{
			{"status", `"%s"`, "$_CMD_QUEUE_STATUS"},
			{"passed", "%d", "$_CMD_QUEUE_NUM_PASSED"},
			{"failed", "%d", "$_CMD_QUEUE_NUM_FAILED"},
			{"skipped", "%d", "$_CMD_QUEUE_NUM_SKIPPED"},
			{"total", "%d", "$_CMD_QUEUE_TOTAL"},
			{"name", `"%s"`, q.name},
			{"rootid", `"%s"`, q.rootID},
		}
		script = append(script, "# Update queue status")
		script = append(script, bashJSONDump(parts, q.stateFpath))
	}
	commandEnter := func() {
		if opts.WithGuards {
			script = append(script, "set -x")
		}
	}
	commandExit := func() {
		if opts.WithGuards {
			script = append(script, "{ set +x; } 2>/dev/null")
		} else if opts.WithStatus {
			script = append(script, "RETURN_CODE=$?")
		}
	}

	markStatus("init")

	if len(q.environ) > 0 {
		script = append(script, "#", "# Environment")
		markStatus("set_environ")
		commandEnter()
		keys := make([]string, 0, len(q.environ))
		for k := range q.environ {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			script = append(script, fmt.Sprintf("export %s=\"%s\"", k, q.environ[k]))
		}
		commandExit()
	}

	if q.cwd != "" {
		script = append(script, "#", "# Working Directory")
		script = append(script, fmt.Sprintf("cd %s", q.cwd))
	}

	if len(q.headerCommands) > 0 {
		script = append(script, "#", "# Header commands")
		for _, command := range q.headerCommands {
			commandEnter()
			script = append(script, command)
			commandExit()
		}
	}

	if len(q.jobs) > 0 {
		script = append(script, "", "# ----", "# Jobs", "# ----", "")

		num := 0
		for _, job := range q.jobs {
			if opts.ExcludeTags.Intersects(job.Tags) {
				continue
			}
			if job.Bookkeeper {
				if opts.WithLocks {
					script = append(script, job.FinalizeText(opts.WithStatus, opts.WithGuards, nil))
				}
				continue
			}
			if opts.WithStatus {
				script = append(script, "", "#", "# <job>")
			}
			markStatus("run")
			script = append(script, fmt.Sprintf("#\n### Command %d / %d - %s", num+1, total, job.Name))
			conds := &Conditionals{
				OnPass: []string{`(( "_CMD_QUEUE_NUM_PASSED=_CMD_QUEUE_NUM_PASSED+1" )) || true`},
				// Skipped jobs reach the fail branch with the 126
				// sentinel; they count as skipped, never as failed.
				OnFail: []string{`[[ "$RETURN_CODE" == "126" ]] || (( "_CMD_QUEUE_NUM_FAILED=_CMD_QUEUE_NUM_FAILED+1" )) || true`},
				OnSkip: []string{`(( "_CMD_QUEUE_NUM_SKIPPED=_CMD_QUEUE_NUM_SKIPPED+1" )) || true`},
			}
			script = append(script, job.FinalizeText(opts.WithStatus, opts.WithGuards, conds))
			if opts.WithStatus {
				script = append(script, "# </job>", "#", "")
			}
			num++
		}
	}

	markStatus("done")

	if opts.WithStatus {
		script = append(script, "# Display final status of this serial queue")
		script = append(script, `echo "Command Queue Final Status:"`)
		script = append(script, fmt.Sprintf("cat %q", q.stateFpath))
	}
	if opts.WithGuards {
		script = append(script, "set +e")
	}
	return strings.Join(script, "\n"), nil
}

// Write materializes the queue script with executable permissions.
func (q *SerialQueue) Write() (string, error) {
	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(q.dpath, 0o755); err != nil {
		return "", fmt.Errorf("create queue directory: %w", err)
	}
	if err := renameio.WriteFile(q.fpath, []byte(text), 0o775); err != nil {
		return "", fmt.Errorf("write queue script: %w", err)
	}
	return q.fpath, nil
}

// CheckSyntax runs `bash -n` over the emitted script. Never invoked
// automatically.
func (q *SerialQueue) CheckSyntax() error {
	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true})
	if err != nil {
		return err
	}
	return CheckBashSyntax(q.execr, text)
}

// Run writes the script and executes it with bash. Non-blocking runs
// detach and leave the process running.
func (q *SerialQueue) Run(opts RunOptions) error {
	fpath, err := q.Write()
	if err != nil {
		return err
	}
	q.log.WithField("script", fpath).Info("running serial queue")
	cmd := osexec.Command("bash", fpath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if !opts.Block {
		return cmd.Start()
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("serial queue failed: %w", err)
	}
	return nil
}

// Kill is a no-op for the serial backend; the queue runs in the caller's
// foreground process.
func (q *SerialQueue) Kill() error { return nil }

// ReadState reads the queue state JSON written by the running script.
func (q *SerialQueue) ReadState() (WorkerState, error) {
	return readWorkerState(q.stateFpath, q.name, q.numRealJobs)
}

// WaitUntilDone polls the state file until the script reports done.
func (q *SerialQueue) WaitUntilDone(refresh time.Duration) (WorkerState, error) {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	for {
		state, err := q.ReadState()
		if err != nil {
			return state, err
		}
		if state.Status == "done" {
			return state, nil
		}
		time.Sleep(refresh)
	}
}

// PrintCommands prints the emitted script.
func (q *SerialQueue) PrintCommands(opts EmitOptions, style OutputStyle) error {
	text, err := q.FinalizeText(opts)
	if err != nil {
		return err
	}
	printCode(q.fpath, text, style)
	return nil
}

// PrintGraph renders the dependency graph as network text.
func (q *SerialQueue) PrintGraph(reduced bool) error {
	dg, err := q.graph()
	if err != nil {
		return err
	}
	if reduced {
		dg = dg.Reduced()
	}
	fmt.Println(dg.NetworkText())
	return nil
}
