package queue

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// graphNode ties a job to its submission index. The gonum node id is the
// submission index, which keeps iteration deterministic.
type graphNode struct {
	id  int64
	job *Job
}

func (n *graphNode) ID() int64 { return n.id }

// DepGraph is the dependency DAG of a queue. Edges run from a dependency
// to its dependent.
type DepGraph struct {
	g      *simple.DirectedGraph
	nodes  []*graphNode
	byName map[string]*graphNode
}

// BuildDependencyGraph constructs the DAG for a list of jobs.
// It fails with ErrDuplicateJob when two jobs share a name and with
// ErrCyclicGraph when the dependencies contain a cycle.
func BuildDependencyGraph(jobs []*Job) (*DepGraph, error) {
	dg := &DepGraph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*graphNode, len(jobs)),
	}
	for index, job := range jobs {
		if _, ok := dg.byName[job.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
		}
		n := &graphNode{id: int64(index), job: job}
		dg.nodes = append(dg.nodes, n)
		dg.byName[job.Name] = n
		dg.g.AddNode(n)
	}
	for _, n := range dg.nodes {
		for _, dep := range n.job.Depends {
			if dep == nil {
				continue
			}
			if dep.Name == n.job.Name {
				return nil, fmt.Errorf("%w: job %q depends on itself", ErrCyclicGraph, n.job.Name)
			}
			// Dependencies on jobs outside this queue (a planner
			// sub-queue sees only its own slice) gate via pass markers
			// alone and contribute no edge.
			if d, ok := dg.byName[dep.Name]; ok {
				dg.g.SetEdge(dg.g.NewEdge(d, n))
			}
		}
	}
	if _, err := topo.Sort(dg.g); err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			var members []string
			for _, component := range uo {
				for _, n := range component {
					members = append(members, n.(*graphNode).job.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCyclicGraph, strings.Join(members, " -> "))
		}
		return nil, err
	}
	return dg, nil
}

// Jobs returns the jobs in submission order.
func (dg *DepGraph) Jobs() []*Job {
	jobs := make([]*Job, len(dg.nodes))
	for i, n := range dg.nodes {
		jobs[i] = n.job
	}
	return jobs
}

// Sinks returns the jobs nothing depends on.
func (dg *DepGraph) Sinks() []*Job {
	var sinks []*Job
	for _, n := range dg.nodes {
		if dg.g.From(n.id).Len() == 0 {
			sinks = append(sinks, n.job)
		}
	}
	return sinks
}

// isSubmissionOrderTopological reports whether every edge points from an
// earlier submission to a later one.
func (dg *DepGraph) isSubmissionOrderTopological() bool {
	for _, n := range dg.nodes {
		for it := dg.g.To(n.id); it.Next(); {
			if it.Node().ID() > n.id {
				return false
			}
		}
	}
	return true
}

// Generations peels the graph into topological generations. Jobs within
// a generation have no edges between each other and are ordered by
// submission index.
func (dg *DepGraph) Generations() [][]*Job {
	indegree := make(map[int64]int, len(dg.nodes))
	for _, n := range dg.nodes {
		indegree[n.id] = dg.g.To(n.id).Len()
	}
	remaining := len(dg.nodes)
	var generations [][]*Job
	for remaining > 0 {
		var genIDs []int64
		for _, n := range dg.nodes {
			if indegree[n.id] == 0 {
				genIDs = append(genIDs, n.id)
			}
		}
		gen := make([]*Job, 0, len(genIDs))
		for _, id := range genIDs {
			indegree[id] = -1
			gen = append(gen, dg.nodes[id].job)
			for it := dg.g.From(id); it.Next(); {
				indegree[it.Node().ID()]--
			}
		}
		generations = append(generations, gen)
		remaining -= len(gen)
	}
	return generations
}

// TopologicalOrder returns a topological ordering minimally rearranged
// from the submission order: if the submission order is already
// topological it is returned unchanged, otherwise jobs are emitted
// generation by generation, preserving submission order within each
// generation.
func (dg *DepGraph) TopologicalOrder() []*Job {
	if dg.isSubmissionOrderTopological() {
		return dg.Jobs()
	}
	var order []*Job
	for _, gen := range dg.Generations() {
		order = append(order, gen...)
	}
	return order
}

// Ancestors returns the names of all strict ancestors of a job.
func (dg *DepGraph) Ancestors(name string) map[string]bool {
	ancestors := make(map[string]bool)
	start, ok := dg.byName[name]
	if !ok {
		return ancestors
	}
	stack := []int64{start.id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for it := dg.g.To(id); it.Next(); {
			parent := it.Node().(*graphNode)
			if !ancestors[parent.job.Name] {
				ancestors[parent.job.Name] = true
				stack = append(stack, parent.id)
			}
		}
	}
	return ancestors
}

// reachable reports whether to can be reached from from by following
// edges forward.
func (dg *DepGraph) reachable(from, to int64) bool {
	if from == to {
		return true
	}
	seen := make(map[int64]bool)
	stack := []int64{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for it := dg.g.From(id); it.Next(); {
			next := it.Node().ID()
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Reduced returns the transitive reduction of the DAG: an edge u->v is
// dropped when v is still reachable from u through some other successor.
func (dg *DepGraph) Reduced() *DepGraph {
	red := &DepGraph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*graphNode, len(dg.nodes)),
	}
	for _, n := range dg.nodes {
		rn := &graphNode{id: n.id, job: n.job}
		red.nodes = append(red.nodes, rn)
		red.byName[n.job.Name] = rn
		red.g.AddNode(rn)
	}
	for _, u := range dg.nodes {
		var succs []int64
		for it := dg.g.From(u.id); it.Next(); {
			succs = append(succs, it.Node().ID())
		}
		for _, v := range succs {
			redundant := false
			for _, w := range succs {
				if w != v && dg.reachable(w, v) {
					redundant = true
					break
				}
			}
			if !redundant {
				red.g.SetEdge(red.g.NewEdge(red.nodes[u.id], red.nodes[v]))
			}
		}
	}
	return red
}

// successors returns the submission indices of direct dependents, sorted.
func (dg *DepGraph) successors(id int64) []int64 {
	var out []int64
	for it := dg.g.From(id); it.Next(); {
		out = append(out, it.Node().ID())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// predecessors returns the submission indices of direct deps, sorted.
func (dg *DepGraph) predecessors(id int64) []int64 {
	var out []int64
	for it := dg.g.To(id); it.Next(); {
		out = append(out, it.Node().ID())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// topoOrderWithin orders a subset of job names topologically, breaking
// ties by submission index.
func (dg *DepGraph) topoOrderWithin(members map[string]bool) []*Job {
	indegree := make(map[int64]int)
	var ids []int64
	for name := range members {
		n := dg.byName[name]
		ids = append(ids, n.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		for _, p := range dg.predecessors(id) {
			if members[dg.nodes[p].job.Name] {
				indegree[id]++
			}
		}
	}
	var order []*Job
	ready := make(map[int64]bool)
	for len(order) < len(ids) {
		progressed := false
		for _, id := range ids {
			if ready[id] || indegree[id] != 0 {
				continue
			}
			ready[id] = true
			progressed = true
			order = append(order, dg.nodes[id].job)
			for _, s := range dg.successors(id) {
				if members[dg.nodes[s].job.Name] {
					indegree[s]--
				}
			}
		}
		if !progressed {
			break
		}
	}
	return order
}

// NetworkText renders the DAG as a UTF forest diagram.
func (dg *DepGraph) NetworkText() string {
	var b strings.Builder
	seen := make(map[int64]bool)
	var roots []int64
	for _, n := range dg.nodes {
		if dg.g.To(n.id).Len() == 0 {
			roots = append(roots, n.id)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	for i, id := range roots {
		last := i == len(roots)-1
		glyph, childPrefix := "╟── ", "╎   "
		if last {
			glyph, childPrefix = "╙── ", "    "
		}
		b.WriteString(glyph + dg.nodeLabel(id, -1) + "\n")
		seen[id] = true
		dg.writeSubtree(&b, id, childPrefix, seen)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (dg *DepGraph) writeSubtree(b *strings.Builder, id int64, prefix string, seen map[int64]bool) {
	succs := dg.successors(id)
	for i, child := range succs {
		last := i == len(succs)-1
		glyph, childPrefix := "├─╼ ", "│   "
		if last {
			glyph, childPrefix = "└─╼ ", "    "
		}
		if seen[child] {
			b.WriteString(prefix + glyph + " ...\n")
			continue
		}
		seen[child] = true
		b.WriteString(prefix + glyph + dg.nodeLabel(child, id) + "\n")
		dg.writeSubtree(b, child, prefix+childPrefix, seen)
	}
}

// nodeLabel renders a node name plus any parents other than the one the
// traversal arrived from.
func (dg *DepGraph) nodeLabel(id, via int64) string {
	var others []string
	for _, p := range dg.predecessors(id) {
		if p != via {
			others = append(others, dg.nodes[p].job.Name)
		}
	}
	label := dg.nodes[id].job.Name
	if len(others) > 0 {
		label += " ╾ " + strings.Join(others, ", ")
	}
	return label
}
