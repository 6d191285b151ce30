package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

// Version is stamped into generated scripts.
const Version = "0.1.0"

// SubmitOptions configures a job submission. Dependencies may be given
// as job references or as names of already-submitted jobs; names resolve
// at submit time so the graph builder only ever sees job pointers.
type SubmitOptions struct {
	Name       string
	Depends    []*Job
	DependsOn  []string
	Bookkeeper bool
	Log        bool
	Tags       Tags
	CPUs       int
	GPUs       int
	Mem        string
	Begin      string
	Partition  string
	Options    BackendOptions
}

// EmitOptions selects which boilerplate layers the emitted scripts carry.
type EmitOptions struct {
	WithStatus  bool
	WithGuards  bool
	WithLocks   bool
	ExcludeTags Tags
}

// RunOptions configures queue execution.
type RunOptions struct {
	// Block waits for completion. The tmux and slurm backends monitor
	// progress while waiting; the serial backend runs in the foreground.
	Block bool
	// SessionPolicy controls how leftover tmux sessions with this
	// queue's name are handled: ask, kill, ignore, or auto.
	SessionPolicy string
	// Refresh is the monitor poll interval; zero means the default.
	Refresh time.Duration
	// Style selects plain, colors, or rich output.
	Style OutputStyle
	// View overrides the monitor's progress view. Nil picks the simple
	// live table.
	View ProgressView
}

// Queue is a DAG of shell jobs bound to one execution backend.
type Queue interface {
	// Submit appends a job built from a shell command.
	Submit(command string, opts SubmitOptions) (*Job, error)
	// Sync makes all subsequently submitted jobs implicitly depend on
	// the current sink jobs.
	Sync() error
	// AddHeaderCommand prepends a raw shell line run before any job.
	AddHeaderCommand(command string)
	// Name returns the queue name.
	Name() string
	// PathID returns the path-safe identifier of this run.
	PathID() string
	// NumRealJobs counts submitted non-bookkeeper jobs.
	NumRealJobs() int
	// Write materializes the queue's scripts and returns the entry path.
	Write() (string, error)
	// Run writes and executes the queue.
	Run(opts RunOptions) error
	// Kill cancels a running queue.
	Kill() error
	// FinalizeText renders the queue's top-level script.
	FinalizeText(opts EmitOptions) (string, error)
	// PrintCommands prints the emitted scripts.
	PrintCommands(opts EmitOptions, style OutputStyle) error
	// PrintGraph renders the dependency graph as network text.
	PrintGraph(reduced bool) error
}

// queueBase carries the submission bookkeeping shared by all backends.
type queueBase struct {
	name           string
	rootID         string
	jobs           []*Job
	namedJobs      map[string]*Job
	numRealJobs    int
	allDepends     []*Job
	headerCommands []string
	environ        map[string]string
	log            *logrus.Entry
}

func newQueueBase(name, rootID string, environ map[string]string) queueBase {
	if rootID == "" {
		rootID = time.Now().Format("2006-01-02") + "_" + strings.ToLower(shortuuid.New())[:8]
	}
	if environ == nil {
		environ = map[string]string{}
	}
	return queueBase{
		name:      name,
		rootID:    rootID,
		namedJobs: make(map[string]*Job),
		environ:   environ,
		log:       logrus.WithField("queue", name),
	}
}

func (b *queueBase) Name() string { return b.name }

// PathID is the path-safe identifier for file names.
func (b *queueBase) PathID() string { return b.name + "_" + b.rootID }

func (b *queueBase) NumRealJobs() int { return b.numRealJobs }

func (b *queueBase) AddHeaderCommand(command string) {
	b.headerCommands = append(b.headerCommands, command)
}

// SetEnv exports a variable at worker start.
func (b *queueBase) SetEnv(key, value string) {
	b.environ[key] = value
}

// defaultJobName names anonymous submissions by position.
func (b *queueBase) defaultJobName() string {
	return fmt.Sprintf("%s-job-%d", b.name, b.numRealJobs)
}

// resolveDepends merges explicit dependencies, name references, and the
// sync barrier into one resolved list.
func (b *queueBase) resolveDepends(opts SubmitOptions) ([]*Job, error) {
	var depends []*Job
	if len(opts.Depends) > 0 || len(opts.DependsOn) > 0 {
		depends = append(depends, opts.Depends...)
		for _, name := range opts.DependsOn {
			dep, ok := b.namedJobs[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q (forward references are not allowed)", ErrUnknownDependency, name)
			}
			depends = append(depends, dep)
		}
		if b.allDepends != nil {
			depends = append(append([]*Job{}, b.allDepends...), depends...)
		}
	} else if b.allDepends != nil {
		depends = append(depends, b.allDepends...)
	}
	return depends, nil
}

// appendJob registers a fully constructed job on the queue.
func (b *queueBase) appendJob(job *Job) error {
	if _, ok := b.namedJobs[job.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
	}
	job.index = len(b.jobs)
	b.jobs = append(b.jobs, job)
	b.namedJobs[job.Name] = job
	if !job.Bookkeeper {
		b.numRealJobs++
	}
	return nil
}

// buildJob constructs a job from a command plus submit options.
func (b *queueBase) buildJob(command string, opts SubmitOptions) (*Job, error) {
	name := opts.Name
	if name == "" {
		name = b.defaultJobName()
	}
	depends, err := b.resolveDepends(opts)
	if err != nil {
		return nil, err
	}
	if opts.Options.Cluster != nil {
		if err := opts.Options.Cluster.Validate(); err != nil {
			return nil, err
		}
	}
	job := NewJob(command, name)
	job.Depends = depends
	job.Bookkeeper = opts.Bookkeeper
	job.Log = opts.Log
	job.Tags = opts.Tags
	job.CPUs = opts.CPUs
	job.GPUs = opts.GPUs
	job.Mem = opts.Mem
	job.Begin = opts.Begin
	job.Partition = opts.Partition
	job.Options = opts.Options
	return job, nil
}

func (b *queueBase) graph() (*DepGraph, error) {
	return BuildDependencyGraph(b.jobs)
}

// Sync records the current sink jobs; everything submitted afterwards
// implicitly depends on them.
func (b *queueBase) Sync() error {
	dg, err := b.graph()
	if err != nil {
		return err
	}
	b.allDepends = dg.Sinks()
	return nil
}

// Create returns a queue for the named backend.
func Create(backend string, opts CreateOptions) (Queue, error) {
	switch backend {
	case "serial":
		return NewSerialQueue(opts), nil
	case "tmux":
		return NewTmuxQueue(opts)
	case "slurm":
		return NewSlurmQueue(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// CreateOptions configures queue construction.
type CreateOptions struct {
	// Name of the queue. When empty, the tmux backend uses "unnamed" and
	// the slurm backend "SQ"; the serial backend keeps the empty name.
	Name string
	// Size is the worker count for the tmux backend.
	Size int
	// Dpath overrides the root directory for generated artifacts.
	Dpath string
	// RootID overrides the run identifier (timestamp + random).
	RootID string
	// Environ is exported at worker start.
	Environ map[string]string
	// GPUs are device indices distributed round-robin across workers.
	GPUs []int
	// Shell wraps cluster commands as `<shell> -c <cmd>` when set.
	Shell string
	// Exec overrides the command executor (tests use the mock).
	Exec exec.CommandExecutor
}

func (o CreateOptions) executor() exec.CommandExecutor {
	if o.Exec != nil {
		return o.Exec
	}
	return &exec.RealCommandExecutor{}
}
