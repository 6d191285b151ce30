package queue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// SessionOptions carries options recognized by the tmux backend.
type SessionOptions struct {
	// GPUIndex is a per-job GPU index. The tmux planner does not read it;
	// workers receive GPUs only through the round-robin distribution of
	// CreateOptions.GPUs.
	GPUIndex int
}

// ClusterOptions carries pass-through options for the cluster backend.
// Keys are validated against the closed sets below at submit time.
type ClusterOptions struct {
	// SbatchOpts are extra --key=value options for the submission line.
	SbatchOpts map[string]string
	// Flags are extra boolean --flag options for the submission line.
	Flags []string
}

// BackendOptions is a tagged variant of backend-specific job options.
// At most one member is set; a zero value means no backend options.
type BackendOptions struct {
	Session *SessionOptions
	Cluster *ClusterOptions
}

// SbatchKVOptions is the closed set of recognized --key=value sbatch
// options that may appear in ClusterOptions.SbatchOpts.
var SbatchKVOptions = map[string]bool{
	"array": true, "account": true, "bb": true, "bbf": true,
	"comment": true, "cpu-freq": true, "cpus-per-task": true,
	"deadline": true, "delay-boot": true, "chdir": true, "error": true,
	"export-file": true, "gid": true, "gres": true, "gres-flags": true,
	"input": true, "licenses": true, "clusters": true,
	"distribution": true, "mail-type": true, "mail-user": true,
	"mcs-label": true, "ntasks": true, "ntasks-per-node": true,
	"nodes": true, "partition": true, "power": true, "priority": true,
	"profile": true, "qos": true, "core-spec": true, "signal": true,
	"switches": true, "thread-spec": true, "time": true,
	"time-min": true, "uid": true, "wckey": true,
	"cluster-constraint": true, "constraint": true, "nodefile": true,
	"mem": true, "mincpus": true, "reservation": true, "tmp": true,
	"nodelist": true, "exclude": true, "mem-per-cpu": true,
	"sockets-per-node": true, "cores-per-socket": true,
	"threads-per-core": true, "extra-node-info": true,
	"ntasks-per-core": true, "ntasks-per-socket": true, "hint": true,
	"mem-bind": true, "cpus-per-gpu": true, "gpus": true,
	"gpu-bind": true, "gpu-freq": true, "gpus-per-node": true,
	"gpus-per-socket": true, "gpus-per-task": true, "mem-per-gpu": true,
}

// SbatchFlagOptions is the closed set of recognized boolean sbatch flags.
var SbatchFlagOptions = map[string]bool{
	"get-user-env": true, "hold": true, "ignore-pbs": true,
	"no-kill": true, "container": true, "no-requeue": true,
	"overcommit": true, "parsable": true, "quiet": true, "reboot": true,
	"requeue": true, "oversubscribe": true, "spread-job": true,
	"use-min-nodes": true, "verbose": true, "wait": true,
	"contiguous": true,
}

// Validate checks cluster option keys against the closed sets.
func (o *ClusterOptions) Validate() error {
	for key := range o.SbatchOpts {
		if !SbatchKVOptions[key] {
			return fmt.Errorf("unrecognized sbatch option %q", key)
		}
	}
	for _, flag := range o.Flags {
		if !SbatchFlagOptions[flag] {
			return fmt.Errorf("unrecognized sbatch flag %q", flag)
		}
	}
	return nil
}

// sortedOptKeys returns the option keys in stable order so emission is
// deterministic.
func (o *ClusterOptions) sortedOptKeys() []string {
	keys := make([]string, 0, len(o.SbatchOpts))
	for key := range o.SbatchOpts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var memUnitNormalizer = strings.NewReplacer(
	"KB", "KiB", "MB", "MiB", "GB", "GiB", "TB", "TiB",
	"kb", "KiB", "mb", "MiB", "gb", "GiB", "tb", "TiB",
)

// CoerceMemMegabytes transforms a memory hint into an integer number of
// megabytes. A bare integer is already megabytes; otherwise the string is
// parsed as a human-readable size. Scheduler sizes are binary, so decimal
// suffixes are treated as their 1024-based counterparts ("10GB" -> 10240).
func CoerceMemMegabytes(mem string) (int, error) {
	mem = strings.TrimSpace(mem)
	if mem == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(mem); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("memory must be positive, got %d", n)
		}
		return n, nil
	}
	b, err := humanize.ParseBytes(memUnitNormalizer.Replace(mem))
	if err != nil {
		return 0, fmt.Errorf("cannot parse memory %q: %w", mem, err)
	}
	return int(b / (1024 * 1024)), nil
}
