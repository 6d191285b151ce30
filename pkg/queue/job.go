package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Job is a shell command queued to run inside a larger generated script.
//
// A job only starts once every dependency has recorded a pass marker; a
// job whose dependencies never pass is skipped with exit code 126.
type Job struct {
	// Name is a unique name for this job within its queue.
	Name string

	// PathID is a path-safe id derived from the name and a fresh random
	// suffix, so repeated runs of the same queue never collide on disk.
	PathID string

	// Command is the opaque shell command text to run.
	Command string

	// Depends are the jobs this job depends on, resolved at submit time.
	Depends []*Job

	// Bookkeeper marks internally generated jobs (semaphore waits and
	// signals) that are excluded from user-visible counters.
	Bookkeeper bool

	// Log tees the command's stdout+stderr to a per-job log file.
	Log bool

	// Tags group jobs for filtering during emission.
	Tags Tags

	// Resource hints. GPUs may be an integer count; gres strings are
	// passed through the cluster options bag instead.
	CPUs      int
	GPUs      int
	Mem       string
	Begin     string
	Partition string

	// Options carries backend-specific options.
	Options BackendOptions

	// AllowIndent controls whether the command body may be indented
	// inside the dependency gate. Indentation matters for some commands
	// (heredocs); set false to keep the body flush left.
	AllowIndent bool

	// InfoDir is where this job's status artifacts live.
	InfoDir string

	// OutputPath is the log destination for cluster submissions.
	OutputPath string

	// Shell optionally wraps the cluster command as `<shell> -c <cmd>`.
	Shell string

	index int // submission order within the owning queue
}

// NewJob creates a job with a fresh path id and derived artifact paths.
func NewJob(command, name string) *Job {
	job := &Job{
		Name:        name,
		Command:     command,
		AllowIndent: true,
	}
	job.PathID = name + "_" + shortHash()
	job.InfoDir = filepath.Join(defaultAppDir(), "jobinfos", job.PathID)
	return job
}

// shortHash returns 8 hex characters of a fresh random uuid.
func shortHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// defaultAppDir is the per-user cache root for cmdq artifacts.
func defaultAppDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		cache = os.TempDir()
	}
	return filepath.Join(cache, "cmdq")
}

// PassPath is the marker file created when the job succeeds.
func (j *Job) PassPath() string {
	return filepath.Join(j.InfoDir, "passed", j.PathID+".pass")
}

// FailPath is the marker file created when the job fails or never runs.
func (j *Job) FailPath() string {
	return filepath.Join(j.InfoDir, "failed", j.PathID+".fail")
}

// StatPath is the per-job JSON status file.
func (j *Job) StatPath() string {
	return filepath.Join(j.InfoDir, "status", j.PathID+".stat")
}

// LogPath is the tee destination when logging is enabled.
func (j *Job) LogPath() string {
	return filepath.Join(j.InfoDir, "status", j.PathID+".logs")
}

func (j *Job) String() string {
	return fmt.Sprintf("Job(%s)", j.Name)
}
