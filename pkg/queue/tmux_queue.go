package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"

	"github.com/cmdq-dev/cmdq/pkg/exec"
	"github.com/cmdq-dev/cmdq/pkg/tmux"
)

// sessionPrefix distinguishes cmdq tmux sessions from unrelated ones.
const sessionPrefix = "cmdq_"

// TmuxQueue partitions a DAG across multiple linear sub-queues, each
// running in its own detached tmux session. Sub-queues within a rank run
// in parallel; semaphore files on disk gate the transitions between
// ranks so every DAG edge is respected.
type TmuxQueue struct {
	queueBase

	size    int
	dpath   string
	fpath   string
	gpus    []int
	workers []*SerialQueue
	tmux    *tmux.Client
	execr   exec.CommandExecutor
}

// NewTmuxQueue creates an empty multi-session queue with the given
// worker count.
func NewTmuxQueue(opts CreateOptions) (*TmuxQueue, error) {
	size := opts.Size
	if size == 0 {
		size = 1
	}
	if size < 0 {
		return nil, fmt.Errorf("tmux queue size must be positive, got %d", size)
	}
	name := opts.Name
	if name == "" {
		name = "unnamed"
	}
	execr := opts.executor()
	q := &TmuxQueue{
		queueBase: newQueueBase(name, opts.RootID, opts.Environ),
		size:      size,
		gpus:      opts.GPUs,
		tmux:      &tmux.Client{Exec: execr},
		execr:     execr,
	}
	q.dpath = opts.Dpath
	if q.dpath == "" {
		q.dpath = filepath.Join(defaultAppDir(), "tmux", q.PathID())
	} else {
		q.dpath = filepath.Join(q.dpath, q.PathID())
	}
	q.fpath = filepath.Join(q.dpath, fmt.Sprintf("run_queues_%s.sh", q.name))
	return q, nil
}

// IsAvailable reports whether tmux can be used on this host.
func (q *TmuxQueue) IsAvailable() bool {
	return q.tmux.IsAvailable()
}

// ScriptPath returns the driver script location.
func (q *TmuxQueue) ScriptPath() string { return q.fpath }

// Workers returns the planned sub-queues. Only valid after Write or an
// explicit OrderJobs.
func (q *TmuxQueue) Workers() []*SerialQueue { return q.workers }

// Jobs returns the submitted jobs in submission order.
func (q *TmuxQueue) Jobs() []*Job { return q.jobs }

// Submit appends a job built from a shell command.
func (q *TmuxQueue) Submit(command string, opts SubmitOptions) (*Job, error) {
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

// newWorkers constructs fresh serial sub-queues with per-worker
// environments. GPU indices cycle across workers.
func (q *TmuxQueue) newWorkers(start int) []*SerialQueue {
	workers := make([]*SerialQueue, q.size)
	for i := 0; i < q.size; i++ {
		environ := make(map[string]string, len(q.environ)+1)
		for k, v := range q.environ {
			environ[k] = v
		}
		if len(q.gpus) > 0 {
			environ["CUDA_VISIBLE_DEVICES"] = fmt.Sprint(q.gpus[i%len(q.gpus)])
		}
		workers[i] = NewSerialQueue(CreateOptions{
			Name:    fmt.Sprintf("%s%s_%03d", sessionPrefix, q.name, start+i),
			RootID:  q.rootID,
			Dpath:   q.dpath,
			Environ: environ,
			Exec:    q.execr,
		})
	}
	return workers
}

// semaphoreWaitCommand polls until every flag file of the previous rank
// exists.
func semaphoreWaitCommand(flagPaths []string, msg string) string {
	conditions := make([]string, 0, len(flagPaths))
	for _, p := range flagPaths {
		conditions = append(conditions, fmt.Sprintf("[ ! -f %s ]", p))
	}
	return strings.Join([]string{
		fmt.Sprintf("printf %q", msg+" "),
		fmt.Sprintf("while %s;", strings.Join(conditions, " || ")),
		"do",
		"   sleep 1;",
		"done",
		fmt.Sprintf("printf %q", "finished "+msg+" "),
	}, "\n")
}

// semaphoreSignalCommand drops this worker's rank-completion flag.
func semaphoreSignalCommand(flagPath string) string {
	return strings.Join([]string{
		"# Signal this worker is complete",
		fmt.Sprintf("mkdir -p %s && touch %s", filepath.Dir(flagPath), flagPath),
	}, "\n")
}

// planRanks partitions the DAG into ranks of parallelizable job groups.
//
// The transitive reduction is cut at every node with in- or out-degree
// above one; the weakly connected pieces that remain are chains that one
// worker can run sequentially. The condensation of the reduction by
// those pieces orders them into ranks, and each rank's groups are packed
// into at most `size` bins by balanced number partitioning.
func (q *TmuxQueue) planRanks() ([][][]*Job, error) {
	dg, err := q.graph()
	if err != nil {
		return nil, err
	}
	red := dg.Reduced()

	inCut := make(map[string]bool)
	outCut := make(map[string]bool)
	cutEdges := make(map[[2]int64]bool)
	for _, n := range red.nodes {
		if red.g.To(n.id).Len() > 1 {
			inCut[n.job.Name] = true
			for _, p := range red.predecessors(n.id) {
				cutEdges[[2]int64{p, n.id}] = true
			}
		}
		if red.g.From(n.id).Len() > 1 {
			outCut[n.job.Name] = true
			for _, s := range red.successors(n.id) {
				cutEdges[[2]int64{n.id, s}] = true
			}
		}
	}

	// Weakly connected components of the reduction minus the cut edges.
	uf := newUnionFind(len(red.nodes))
	for _, n := range red.nodes {
		for _, s := range red.successors(n.id) {
			if !cutEdges[[2]int64{n.id, s}] {
				uf.union(int(n.id), int(s))
			}
		}
	}
	compOf := make([]int, len(red.nodes))
	compMembers := make(map[int][]int64)
	for _, n := range red.nodes {
		root := uf.find(int(n.id))
		compOf[n.id] = root
		compMembers[root] = append(compMembers[root], n.id)
	}

	// Condense the reduction by those components and order the
	// condensation topologically.
	compIDs := make([]int, 0, len(compMembers))
	for id := range compMembers {
		compIDs = append(compIDs, id)
	}
	sort.Ints(compIDs)
	compSucc := make(map[int]map[int]bool)
	compIndegree := make(map[int]int)
	for _, id := range compIDs {
		compSucc[id] = make(map[int]bool)
		compIndegree[id] = 0
	}
	for _, n := range red.nodes {
		for _, s := range red.successors(n.id) {
			from, to := compOf[n.id], compOf[s]
			if from != to && !compSucc[from][to] {
				compSucc[from][to] = true
				compIndegree[to]++
			}
		}
	}
	var compOrder []int
	ready := append([]int{}, compIDs...)
	for len(compOrder) < len(compIDs) {
		progressed := false
		for _, id := range ready {
			if compIndegree[id] != 0 {
				continue
			}
			compIndegree[id] = -1
			compOrder = append(compOrder, id)
			progressed = true
			for to := range compSucc[id] {
				compIndegree[to]--
			}
		}
		if !progressed {
			return nil, fmt.Errorf("%w: condensation is not orderable", ErrCyclicGraph)
		}
	}

	// Rank each component by how many cut nodes gate it.
	rankings := make(map[int]map[string]bool)
	for _, compID := range compOrder {
		members := make(map[string]bool)
		for _, id := range compMembers[compID] {
			members[red.nodes[id].job.Name] = true
		}
		ancestors := make(map[string]bool)
		for name := range members {
			for a := range red.Ancestors(name) {
				ancestors[a] = true
			}
		}
		rank := 0
		for name := range members {
			if inCut[name] {
				rank++
			}
		}
		for name := range ancestors {
			if outCut[name] {
				rank++
			}
			if inCut[name] {
				rank++
			}
		}
		if rankings[rank] == nil {
			rankings[rank] = make(map[string]bool)
		}
		for name := range members {
			rankings[rank][name] = true
		}
	}

	ranks := make([]int, 0, len(rankings))
	for rank := range rankings {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	// Within each rank, only disconnected pieces can run in parallel.
	// Pack them into at most size bins, balancing the bin sums.
	var rankedJobGroups [][][]*Job
	for _, rank := range ranks {
		group := rankings[rank]
		parallelGroups := q.parallelGroups(dg, group)

		weights := make([]int, len(parallelGroups))
		for i, pg := range parallelGroups {
			weights[i] = len(pg)
		}
		assignments := balancedNumberPartitioning(weights, q.size)

		var rankJobs [][]*Job
		for _, groupIdxs := range assignments {
			if len(groupIdxs) == 0 {
				continue
			}
			// Order the bin's groups to better agree with submission
			// order.
			sort.SliceStable(groupIdxs, func(a, b int) bool {
				return groupPriority(dg, parallelGroups[groupIdxs[a]]) <
					groupPriority(dg, parallelGroups[groupIdxs[b]])
			})
			var jobs []*Job
			for _, gi := range groupIdxs {
				jobs = append(jobs, parallelGroups[gi]...)
			}
			rankJobs = append(rankJobs, jobs)
		}
		rankedJobGroups = append(rankedJobGroups, rankJobs)
	}

	if q.size == 1 {
		// One worker means no parallelism and therefore no semaphores;
		// flatten every rank into a single serial sub-queue.
		var flat []*Job
		for _, rankJobs := range rankedJobGroups {
			for _, jobs := range rankJobs {
				flat = append(flat, jobs...)
			}
		}
		rankedJobGroups = [][][]*Job{{flat}}
	}
	return rankedJobGroups, nil
}

// parallelGroups splits a rank's members into its weakly connected
// components of the full graph, each ordered topologically.
func (q *TmuxQueue) parallelGroups(dg *DepGraph, members map[string]bool) [][]*Job {
	uf := newUnionFind(len(dg.nodes))
	for _, n := range dg.nodes {
		if !members[n.job.Name] {
			continue
		}
		for _, s := range dg.successors(n.id) {
			if members[dg.nodes[s].job.Name] {
				uf.union(int(n.id), int(s))
			}
		}
	}
	comps := make(map[int]map[string]bool)
	var roots []int
	for _, n := range dg.nodes {
		if !members[n.job.Name] {
			continue
		}
		root := uf.find(int(n.id))
		if comps[root] == nil {
			comps[root] = make(map[string]bool)
			roots = append(roots, root)
		}
		comps[root][n.job.Name] = true
	}
	sort.Ints(roots)
	groups := make([][]*Job, 0, len(comps))
	for _, root := range roots {
		groups = append(groups, dg.topoOrderWithin(comps[root]))
	}
	return groups
}

// groupPriority is the minimum submission index across a group's jobs.
func groupPriority(dg *DepGraph, jobs []*Job) int64 {
	priority := int64(^uint64(0) >> 1)
	for _, job := range jobs {
		if n, ok := dg.byName[job.Name]; ok && n.id < priority {
			priority = n.id
		}
	}
	return priority
}

// Plan exposes the rank/bin partitioning for inspection: for each rank,
// the job lists of each planned sub-queue.
func (q *TmuxQueue) Plan() ([][][]*Job, error) {
	return q.planRanks()
}

// OrderJobs plans the sub-queues: one serial queue per bin per rank,
// with wait semaphores at rank entries and signal semaphores at worker
// exits.
func (q *TmuxQueue) OrderJobs() error {
	rankedJobGroups, err := q.planRanks()
	if err != nil {
		return err
	}
	flagDpath := filepath.Join(q.dpath, "semaphores")
	var queueWorkers []*SerialQueue
	var prevRankFlags []string
	for rank, rankJobs := range rankedJobGroups {
		workers := q.newWorkers(len(queueWorkers))
		var rankWorkers []*SerialQueue
		for i, jobs := range rankJobs {
			worker := workers[i]
			if len(prevRankFlags) > 0 {
				command := semaphoreWaitCommand(prevRankFlags,
					fmt.Sprintf("wait for previous rank %d", rank-1))
				wait := NewJob(command, fmt.Sprintf("%s-wait-rank%d", worker.name, rank))
				wait.Bookkeeper = true
				wait.InfoDir = filepath.Join(q.dpath, "job_info", wait.PathID)
				if err := worker.submitExisting(wait); err != nil {
					return err
				}
			}
			for _, job := range jobs {
				if err := worker.submitExisting(job); err != nil {
					return err
				}
			}
			rankWorkers = append(rankWorkers, worker)
		}
		queueWorkers = append(queueWorkers, rankWorkers...)

		if q.size == 1 {
			// A single worker runs everything sequentially; no
			// semaphores are needed.
			continue
		}
		numRankWorkers := len(rankWorkers)
		rankFlags := make([]string, 0, numRankWorkers)
		for workerIdx, worker := range rankWorkers {
			flagPath := filepath.Join(flagDpath,
				fmt.Sprintf("rank_flag_%d_%d_%d.done", rank, workerIdx, numRankWorkers))
			signal := NewJob(semaphoreSignalCommand(flagPath),
				fmt.Sprintf("%s-signal-rank%d", worker.name, rank))
			signal.Bookkeeper = true
			signal.InfoDir = filepath.Join(q.dpath, "job_info", signal.PathID)
			if err := worker.submitExisting(signal); err != nil {
				return err
			}
			rankFlags = append(rankFlags, flagPath)
		}
		prevRankFlags = rankFlags
	}

	for _, worker := range queueWorkers {
		for _, command := range q.headerCommands {
			worker.AddHeaderCommand(command)
		}
	}
	q.workers = queueWorkers
	return nil
}

// FinalizeText renders the driver script that spawns each worker in its
// own detached tmux session.
func (q *TmuxQueue) FinalizeText(opts EmitOptions) (string, error) {
	if err := q.OrderJobs(); err != nil {
		return "", err
	}
	driver := []string{strings.Join([]string{
		"#!/bin/bash",
		"# Driver script to start the tmux-queue",
		fmt.Sprintf("echo \"Submitting %d jobs to a tmux queue\"", q.numRealJobs),
	}, "\n")}
	for _, worker := range q.workers {
		driver = append(driver, strings.Join([]string{
			fmt.Sprintf("### Run Queue: %s with %d jobs", worker.PathID(), worker.NumRealJobs()),
			fmt.Sprintf("tmux new-session -d -s %s \"bash\"", worker.PathID()),
			fmt.Sprintf("tmux send -t %s \\", worker.PathID()),
			fmt.Sprintf("    \"source %s\" \\", worker.ScriptPath()),
			"    Enter",
		}, "\n"))
	}
	driver = append(driver, fmt.Sprintf("echo \"Spread jobs across %d tmux workers\"", len(q.workers)))
	return strings.Join(driver, "\n\n"), nil
}

// Write plans the sub-queues and writes every worker script plus the
// driver.
func (q *TmuxQueue) Write() (string, error) {
	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true})
	if err != nil {
		return "", err
	}
	for _, worker := range q.workers {
		if _, err := worker.Write(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(q.dpath, 0o755); err != nil {
		return "", fmt.Errorf("create queue directory: %w", err)
	}
	if err := renameio.WriteFile(q.fpath, []byte(text), 0o775); err != nil {
		return "", fmt.Errorf("write driver script: %w", err)
	}
	return q.fpath, nil
}

// KillOtherSessions finds leftover tmux sessions from earlier runs of a
// queue with the same name and kills them, optionally asking first.
func (q *TmuxQueue) KillOtherSessions(askFirst bool, confirm func(string) bool) error {
	sessions, err := q.tmux.ListSessions()
	if err != nil {
		return err
	}
	prefix := sessionPrefix + q.name + "_"
	var otherIDs []string
	for _, session := range sessions {
		if strings.HasPrefix(session.ID, prefix) {
			otherIDs = append(otherIDs, session.ID)
		}
	}
	if len(otherIDs) == 0 {
		return nil
	}
	q.log.WithField("count", len(otherIDs)).Info("detected other running cmdq sessions with the same name")
	if askFirst {
		if confirm == nil {
			confirm = ConfirmPrompt
		}
		if !confirm("Do you want to kill the other sessions?") {
			return nil
		}
	}
	for _, id := range otherIDs {
		if err := q.tmux.KillSession(id); err != nil {
			return err
		}
	}
	return nil
}

// HandleOtherSessions applies the conflicting-session policy: ask,
// kill, ignore, or auto (ask when stdin is a terminal, else kill).
func (q *TmuxQueue) HandleOtherSessions(policy string, confirm func(string) bool) error {
	if policy == "" || policy == "auto" {
		if hasStdin() {
			policy = "ask"
		} else {
			policy = "kill"
		}
	}
	switch policy {
	case "ask":
		return q.KillOtherSessions(true, confirm)
	case "kill":
		return q.KillOtherSessions(false, confirm)
	case "ignore":
		return nil
	default:
		return fmt.Errorf("unknown session policy %q", policy)
	}
}

// Run launches every worker session and, when blocking, monitors until
// all workers are done. Sessions of a fully passing run are cleaned up;
// sessions with failures are kept for inspection.
func (q *TmuxQueue) Run(opts RunOptions) error {
	if !q.IsAvailable() {
		return fmt.Errorf("%w: tmux not found", ErrBackendUnavailable)
	}
	if err := q.HandleOtherSessions(opts.SessionPolicy, nil); err != nil {
		return err
	}
	fpath, err := q.Write()
	if err != nil {
		return err
	}
	q.log.WithFields(map[string]any{
		"driver":  fpath,
		"workers": len(q.workers),
	}).Info("launching tmux queue")
	if err := q.execr.Execute("bash", fpath); err != nil {
		return fmt.Errorf("launch tmux queue: %w", err)
	}
	if !opts.Block {
		return nil
	}
	view := opts.View
	if view == nil {
		view = NewLiveTable(opts.Style)
	}
	agg, err := q.Monitor(opts.Refresh, view)
	if err != nil {
		return err
	}
	if agg.Failed == 0 {
		return q.Kill()
	}
	return nil
}

// ReadStates returns the current state of every worker.
func (q *TmuxQueue) ReadStates() ([]WorkerState, error) {
	states := make([]WorkerState, 0, len(q.workers))
	for _, worker := range q.workers {
		state, err := worker.ReadState()
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// ReadState aggregates all worker states.
func (q *TmuxQueue) ReadState() (AggregateState, error) {
	states, err := q.ReadStates()
	if err != nil {
		return AggregateState{}, err
	}
	agg, _ := aggregateStates(states)
	return AggregateState{WorkerState: agg, Workers: states}, nil
}

// Monitor polls worker states until every worker reports done.
func (q *TmuxQueue) Monitor(refresh time.Duration, view ProgressView) (AggregateState, error) {
	return monitorLoop(q.ReadStates, view, refresh, ConfirmPrompt, q.Kill)
}

// CurrentOutput prints the visible pane of every worker session.
func (q *TmuxQueue) CurrentOutput() error {
	for _, worker := range q.workers {
		out, err := q.tmux.CapturePane(worker.PathID())
		if err != nil {
			return err
		}
		fmt.Printf("### %s\n%s\n", worker.PathID(), out)
	}
	return nil
}

// Kill kills every worker session.
func (q *TmuxQueue) Kill() error {
	for _, worker := range q.workers {
		if err := q.tmux.KillSession(worker.PathID()); err != nil {
			q.log.WithField("session", worker.PathID()).WithError(err).Warn("failed to kill session")
		}
	}
	return nil
}

// PrintCommands prints every worker script followed by the driver.
func (q *TmuxQueue) PrintCommands(opts EmitOptions, style OutputStyle) error {
	text, err := q.FinalizeText(opts)
	if err != nil {
		return err
	}
	for _, worker := range q.workers {
		if err := worker.PrintCommands(opts, style); err != nil {
			return err
		}
	}
	printCode(q.fpath, text, style)
	return nil
}

// PrintGraph renders the dependency graph as network text.
func (q *TmuxQueue) PrintGraph(reduced bool) error {
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

// unionFind is a small disjoint-set over integer ids.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		if ra > rb {
			ra, rb = rb, ra
		}
		uf.parent[rb] = ra
	}
}
