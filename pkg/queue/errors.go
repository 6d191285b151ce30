package queue

import "errors"

// Sentinel errors for the failure kinds callers are expected to branch on.
var (
	// ErrDuplicateJob is returned when a job name is submitted twice
	// within the same queue.
	ErrDuplicateJob = errors.New("duplicate job name")

	// ErrUnknownBackend is returned by the factory for a backend name it
	// does not know.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrCyclicGraph is returned when the dependency graph contains a cycle.
	ErrCyclicGraph = errors.New("cyclic dependency graph")

	// ErrBackendUnavailable is returned when running a queue whose backend
	// probe failed.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBashSyntax is returned by the explicit syntax pre-check when
	// `bash -n` rejects an emitted script.
	ErrBashSyntax = errors.New("bash syntax error")

	// ErrMonitor is returned when a status file failed to parse for more
	// than the bounded number of attempts.
	ErrMonitor = errors.New("monitor error")

	// ErrUnknownDependency is returned when a dependency reference does
	// not resolve to an already-submitted job.
	ErrUnknownDependency = errors.New("unknown dependency")
)
