package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

// ScontrolSpecialKeys is the baseline set of `scontrol show job` keys
// whose values may contain spaces and equal signs and must therefore be
// parsed positionally. Platforms can extend it per SlurmQueue.
var ScontrolSpecialKeys = []string{
	"JobName", "WorkDir", "StdErr", "StdIn", "StdOut", "Command",
	"NodeList", "BatchHost", "Partition",
}

// SlurmQueue translates a DAG into a script of sbatch submissions whose
// dependency edges are expressed through captured job ids.
//
// The scheduler takes care of the actual concurrency; this queue only
// needs to encode the DAG as submission commands in a topological order.
type SlurmQueue struct {
	queueBase

	dpath      string
	logDpath   string
	fpath      string
	jobidFpath string
	shell      string
	execr      exec.CommandExecutor

	// DefaultOptions are queue-level sbatch options applied to every
	// job; per-job options take precedence.
	DefaultOptions *ClusterOptions

	// SpecialKeys overrides the scontrol space-tolerant key allow-list.
	SpecialKeys []string

	includeMonitorMetadata bool
	jobnameToVar           map[string]string
}

// NewSlurmQueue creates an empty cluster queue.
func NewSlurmQueue(opts CreateOptions) *SlurmQueue {
	name := opts.Name
	if name == "" {
		name = "SQ"
	}
	rootID := opts.RootID
	if rootID == "" {
		rootID = time.Now().Format("20060102T150405") + "-" + shortHash()
	}
	q := &SlurmQueue{
		queueBase:              newQueueBase(name, rootID, opts.Environ),
		shell:                  opts.Shell,
		execr:                  opts.executor(),
		SpecialKeys:            ScontrolSpecialKeys,
		includeMonitorMetadata: true,
	}
	q.dpath = opts.Dpath
	if q.dpath == "" {
		q.dpath = filepath.Join(defaultAppDir(), "slurm", q.PathID())
	}
	q.logDpath = filepath.Join(q.dpath, "logs")
	q.fpath = filepath.Join(q.dpath, q.PathID()+".sh")
	q.jobidFpath = filepath.Join(q.dpath, q.PathID()+".jobids.json")
	return q
}

// IsAvailable reports whether a usable slurm installation exists.
func (q *SlurmQueue) IsAvailable() bool {
	return SlurmAvailable(q.execr)
}

// ScriptPath returns where the submission script is written.
func (q *SlurmQueue) ScriptPath() string { return q.fpath }

// JobIDPath returns where the generated script dumps captured job ids.
func (q *SlurmQueue) JobIDPath() string { return q.jobidFpath }

// Jobs returns the submitted jobs in submission order.
func (q *SlurmQueue) Jobs() []*Job { return q.jobs }

func (q *SlurmQueue) defaultJobName() string {
	return fmt.Sprintf("J%04d-%s", len(q.jobs), q.PathID())
}

// Submit appends a job built from a shell command.
func (q *SlurmQueue) Submit(command string, opts SubmitOptions) (*Job, error) {
	if opts.Name == "" {
		opts.Name = q.defaultJobName()
	}
	job, err := q.buildJob(command, opts)
	if err != nil {
		return nil, err
	}
	job.OutputPath = filepath.Join(q.logDpath, job.Name+".sh")
	if job.Shell == "" {
		job.Shell = q.shell
	}
	if err := q.appendJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// shellQuote quotes a string for use as a single shell word, the way a
// POSIX shell expects: wrap in single quotes, escaping embedded ones.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

var safeShellWord = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

// mergedClusterOptions layers job options over the queue defaults.
func (q *SlurmQueue) mergedClusterOptions(job *Job) *ClusterOptions {
	merged := &ClusterOptions{SbatchOpts: map[string]string{}}
	apply := func(o *ClusterOptions) {
		if o == nil {
			return
		}
		for k, v := range o.SbatchOpts {
			merged.SbatchOpts[k] = v
		}
		for _, f := range o.Flags {
			merged.Flags = append(merged.Flags, f)
		}
	}
	apply(q.DefaultOptions)
	apply(job.Options.Cluster)
	sort.Strings(merged.Flags)
	return merged
}

// buildSbatchArgs builds the token list of one submission line.
// Dependency ids reference previously captured shell variables where
// possible, falling back to a squeue lookup by name.
func (q *SlurmQueue) buildSbatchArgs(job *Job, jobnameToVar map[string]string) ([]string, error) {
	args := []string{"sbatch"}
	if job.Name != "" {
		args = append(args, fmt.Sprintf("--job-name=%q", job.Name))
	}
	if job.CPUs > 0 {
		args = append(args, fmt.Sprintf("--cpus-per-task=%d", job.CPUs))
	}
	if job.Mem != "" {
		mem, err := CoerceMemMegabytes(job.Mem)
		if err != nil {
			return nil, err
		}
		args = append(args, fmt.Sprintf("--mem=%d", mem))
	}
	if job.OutputPath != "" {
		args = append(args, fmt.Sprintf("--output=%q", job.OutputPath))
	}
	if job.Partition != "" {
		args = append(args, fmt.Sprintf("--partition=%q", job.Partition))
	}

	// GPU allocation is expressed only through the explicit options bag;
	// no gres string is synthesized from the GPUs hint.
	opts := q.mergedClusterOptions(job)
	for _, key := range opts.sortedOptKeys() {
		args = append(args, fmt.Sprintf("--%s=%q", key, opts.SbatchOpts[key]))
	}
	for _, flag := range opts.Flags {
		args = append(args, "--"+flag)
	}

	if len(job.Depends) > 0 {
		var jobIDs []string
		for _, dep := range job.Depends {
			if dep == nil {
				continue
			}
			if varname, ok := jobnameToVar[dep.Name]; ok {
				jobIDs = append(jobIDs, "${"+varname+"}")
			} else {
				jobIDs = append(jobIDs, fmt.Sprintf("$(squeue --noheader --format %%i --name '%s')", dep.Name))
			}
		}
		if len(jobIDs) > 0 {
			args = append(args, fmt.Sprintf("\"--dependency=afterok:%s\"", strings.Join(jobIDs, ":")))
		}
	}

	if job.Begin != "" {
		if _, err := strconv.Atoi(job.Begin); err == nil {
			args = append(args, fmt.Sprintf("\"--begin=now+%s\"", job.Begin))
		} else {
			args = append(args, fmt.Sprintf("\"--begin=%s\"", job.Begin))
		}
	}

	wrapped := shellQuote(job.Command)
	if job.Shell != "" {
		wrapped = shellQuote(job.Shell + " -c " + wrapped)
	}
	args = append(args, "--wrap "+wrapped)
	return args, nil
}

// FinalizeText serializes the queue into a script of submission lines.
// Repeated emission of the same queue produces byte-identical output.
func (q *SlurmQueue) FinalizeText(opts EmitOptions) (string, error) {
	dg, err := q.graph()
	if err != nil {
		return "", err
	}
	commands := []string{fmt.Sprintf("mkdir -p %q", q.logDpath)}
	jobnameToVar := make(map[string]string)
	var varnames []string
	for _, job := range dg.TopologicalOrder() {
		if opts.ExcludeTags.Intersects(job.Tags) {
			continue
		}
		args, err := q.buildSbatchArgs(job, jobnameToVar)
		if err != nil {
			return "", err
		}
		command := strings.Join(args, " \\\n    ")
		if len(q.headerCommands) > 0 {
			command = strings.Join(append(append([]string{}, q.headerCommands...), command), " && ")
		}
		varname := fmt.Sprintf("JOB_%03d", len(jobnameToVar))
		commands = append(commands, fmt.Sprintf("%s=$(%s --parsable)", varname, command))
		jobnameToVar[job.Name] = varname
		varnames = append(varnames, varname)
	}
	q.jobnameToVar = jobnameToVar

	if q.includeMonitorMetadata {
		// Dump the captured job ids to disk so the monitor can track
		// them by id instead of scraping the queue listing.
		parts := make([]jsonFmtPart, 0, len(varnames))
		for _, varname := range varnames {
			parts = append(parts, jsonFmtPart{varname, "%s", "$" + varname})
		}
		commands = append(commands, bashJSONDump(parts, q.jobidFpath))
	}
	return strings.Join(commands, "\n"), nil
}

// Write materializes the submission script with executable permissions.
func (q *SlurmQueue) Write() (string, error) {
	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(q.logDpath, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	if err := renameio.WriteFile(q.fpath, []byte(text), 0o775); err != nil {
		return "", fmt.Errorf("write submission script: %w", err)
	}
	return q.fpath, nil
}

// Run submits every job and, when blocking, monitors until all reach a
// terminal state.
func (q *SlurmQueue) Run(opts RunOptions) error {
	if !q.IsAvailable() {
		return fmt.Errorf("%w: slurm is not usable on this host", ErrBackendUnavailable)
	}
	fpath, err := q.Write()
	if err != nil {
		return err
	}
	q.log.WithField("script", fpath).Info("submitting slurm queue")
	if err := q.execr.Execute("bash", fpath); err != nil {
		return fmt.Errorf("submit slurm queue: %w", err)
	}
	if !opts.Block {
		return nil
	}
	view := opts.View
	if view == nil {
		view = NewLiveTable(opts.Style)
	}
	_, err = q.Monitor(opts.Refresh, view)
	return err
}

// Kill cancels every submitted job by name.
func (q *SlurmQueue) Kill() error {
	for _, job := range q.jobs {
		if err := q.execr.Execute("scancel", fmt.Sprintf("--name=%s", job.Name)); err != nil {
			q.log.WithField("job", job.Name).WithError(err).Warn("failed to cancel job")
		}
	}
	return nil
}

// slurmJobRow tracks one captured job id through the monitor.
type slurmJobRow struct {
	varname     string
	jobID       string
	status      string
	needsUpdate bool
}

// loadJobIDTable reads the job-id dump left by the submission script.
// A missing or unparseable file means id-based monitoring is not
// possible and the caller falls back to scraping squeue.
func (q *SlurmQueue) loadJobIDTable() []*slurmJobRow {
	data, err := os.ReadFile(q.jobidFpath)
	if err != nil {
		return nil
	}
	var lut map[string]string
	if err := json.Unmarshal(data, &lut); err != nil {
		return nil
	}
	varnames := make([]string, 0, len(lut))
	for varname := range lut {
		varnames = append(varnames, varname)
	}
	sort.Strings(varnames)
	rows := make([]*slurmJobRow, 0, len(varnames))
	for _, varname := range varnames {
		rows = append(rows, &slurmJobRow{
			varname:     varname,
			jobID:       lut[varname],
			status:      "unknown",
			needsUpdate: true,
		})
	}
	return rows
}

// updateJobIDStatus refreshes non-terminal rows by querying scontrol,
// a handful of jobs at a time.
func (q *SlurmQueue) updateJobIDStatus(rows []*slurmJobRow) error {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(8)
	for _, row := range rows {
		if !row.needsUpdate {
			continue
		}
		row := row
		g.Go(func() error {
			out, err := q.execr.Output("scontrol", "show", "job", row.jobID)
			if err != nil {
				return nil // job may have aged out; keep the row unknown
			}
			info := ParseScontrolOutput(out, q.SpecialKeys)
			state := info["JobState"]
			mu.Lock()
			defer mu.Unlock()
			switch {
			case strings.HasPrefix(state, "FAILED"):
				row.status = "failed"
				row.needsUpdate = false
				q.log.WithFields(map[string]any{
					"job":    info["JobName"],
					"stderr": info["StdErr"],
				}).Warn("job failed")
			case strings.HasPrefix(state, "CANCELLED"):
				row.status = "skipped"
				row.needsUpdate = false
			case strings.HasPrefix(state, "COMPLETED"):
				row.status = "passed"
				row.needsUpdate = false
			case strings.HasPrefix(state, "RUNNING"):
				row.status = "running"
			case strings.HasPrefix(state, "PENDING"):
				row.status = "pending"
			default:
				row.status = "unknown"
			}
			return nil
		})
	}
	return g.Wait()
}

// squeueRow is one line of the squeue listing.
type squeueRow struct {
	JobID  string
	Name   string
	State  string
	Reason string
}

// listQueue scrapes squeue for the fallback monitoring mode.
func (q *SlurmQueue) listQueue() ([]squeueRow, error) {
	out, err := q.execr.Output("squeue", "--format=%i %P %j %u %t %M %D %R")
	if err != nil {
		return nil, fmt.Errorf("squeue: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var rows []squeueRow
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		rows = append(rows, squeueRow{
			JobID:  fields[0],
			Name:   fields[2],
			State:  fields[4],
			Reason: strings.Join(fields[7:], " "),
		})
	}
	return rows, nil
}

// Monitor polls job states until every submission reaches a terminal
// state. With the job-id file available it queries each id; otherwise it
// falls back to the queue listing and tracks the names this queue
// created. Jobs stuck on a dependency that can never be satisfied are
// cancelled proactively, because the scheduler's native
// kill-on-invalid-dep behaves too eagerly.
func (q *SlurmQueue) Monitor(refresh time.Duration, view ProgressView) (WorkerState, error) {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	rows := q.loadJobIDTable()
	read := func() ([]WorkerState, error) {
		if err := q.collectQueueGarbage(); err != nil {
			return nil, err
		}
		state, finished, err := q.currentState(rows)
		if err != nil {
			return nil, err
		}
		if finished {
			state.Status = "done"
		} else {
			state.Status = "run"
		}
		return []WorkerState{state}, nil
	}
	agg, err := monitorLoop(read, view, refresh, ConfirmPrompt, q.Kill)
	return agg.WorkerState, err
}

// currentState computes a summary state plus whether monitoring is done.
func (q *SlurmQueue) currentState(rows []*slurmJobRow) (WorkerState, bool, error) {
	state := WorkerState{Name: q.name, RootID: q.rootID}
	if rows != nil {
		if err := q.updateJobIDStatus(rows); err != nil {
			return state, false, err
		}
		counts := map[string]int{}
		for _, row := range rows {
			counts[row.status]++
		}
		state.Passed = counts["passed"]
		state.Failed = counts["failed"]
		state.Skipped = counts["skipped"]
		state.Total = len(rows)
		finished := counts["pending"]+counts["running"]+counts["unknown"] == 0
		return state, finished, nil
	}

	// Fallback: no id file; watch the queue listing for our job names.
	listed, err := q.listQueue()
	if err != nil {
		return state, false, err
	}
	names := make(map[string]bool, len(q.jobs))
	for _, job := range q.jobs {
		names[job.Name] = true
	}
	inQueue := 0
	for _, row := range listed {
		if names[row.Name] {
			inQueue++
		}
	}
	state.Total = q.numRealJobs
	return state, inQueue == 0, nil
}

// collectQueueGarbage cancels tracked jobs whose dependency can never be
// satisfied.
func (q *SlurmQueue) collectQueueGarbage() error {
	listed, err := q.listQueue()
	if err != nil {
		return nil // transient squeue failures are not fatal here
	}
	names := make(map[string]bool, len(q.jobs))
	for _, job := range q.jobs {
		names[job.Name] = true
	}
	for _, row := range listed {
		if names[row.Name] && strings.Contains(row.Reason, "DependencyNeverSatisfied") {
			if err := q.execr.Execute("scancel", fmt.Sprintf("--name=%s", row.Name)); err != nil {
				q.log.WithField("job", row.Name).WithError(err).Warn("failed to cancel broken job")
			}
		}
	}
	return nil
}

// ReadState returns the summary state of the submitted jobs.
func (q *SlurmQueue) ReadState() (WorkerState, error) {
	rows := q.loadJobIDTable()
	state, finished, err := q.currentState(rows)
	if err != nil {
		return state, err
	}
	if finished {
		state.Status = "done"
	} else {
		state.Status = "run"
	}
	return state, nil
}

// PrintCommands prints the emitted submission script.
func (q *SlurmQueue) PrintCommands(opts EmitOptions, style OutputStyle) error {
	text, err := q.FinalizeText(opts)
	if err != nil {
		return err
	}
	printCode(q.fpath, text, style)
	return nil
}

// PrintGraph renders the dependency graph as network text.
func (q *SlurmQueue) PrintGraph(reduced bool) error {
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

// ParseScontrolOutput parses `scontrol show job` key=value text.
// Keys in specialKeys may hold spaces and equal signs; each is expected
// to be the last key on its line and is split off positionally before
// the rest of the line is tokenized.
func ParseScontrolOutput(output string, specialKeys []string) map[string]string {
	alternatives := make([]string, 0, len(specialKeys))
	for _, key := range specialKeys {
		alternatives = append(alternatives, " "+regexp.QuoteMeta(key)+"=")
	}
	pat := regexp.MustCompile("(" + strings.Join(alternatives, "|") + ")")

	parsed := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		if loc := pat.FindStringIndex(line); loc != nil {
			special := line[loc[0]+1:]
			if key, value, found := strings.Cut(special, "="); found {
				parsed[key] = strings.TrimSpace(value)
			}
			line = line[:loc[0]]
		}
		for _, part := range strings.Fields(strings.TrimSpace(line)) {
			if key, value, found := strings.Cut(part, "="); found {
				parsed[key] = value
			}
		}
	}
	return parsed
}
