package cmd

import (
	"fmt"

	"github.com/cmdq-dev/cmdq/pkg/queue"
)

// queueEmitAll selects the full boilerplate: status tracking, guards,
// and lock bookkeeping.
var queueEmitAll = queue.EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true}

// buildQueue reconstructs a runnable queue from a persisted CLI
// definition or a pipeline file.
func buildQueue(qname, backend string, workers int, storeDir, pipelineFile string) (queue.Queue, error) {
	if workers < 1 {
		workers = 1
	}

	if pipelineFile != "" {
		spec, err := queue.LoadPipeline(pipelineFile)
		if err != nil {
			return nil, err
		}
		name := spec.Name
		if qname != "" {
			name = qname
		}
		q, err := queue.Create(backend, queue.CreateOptions{Name: name, Size: workers})
		if err != nil {
			return nil, err
		}
		if err := spec.Apply(q); err != nil {
			return nil, err
		}
		return q, nil
	}

	if qname == "" {
		return nil, fmt.Errorf("a queue name or a pipeline file is required")
	}
	store, err := NewStore(storeDir)
	if err != nil {
		return nil, err
	}
	rows, err := store.Read(qname)
	if err != nil {
		return nil, err
	}
	q, err := queue.Create(backend, queue.CreateOptions{Name: qname, Size: workers})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		switch row.Type {
		case "header":
			q.AddHeaderCommand(row.Header)
		case "command":
			opts := queue.SubmitOptions{Name: row.Name, DependsOn: row.Depends}
			if _, err := q.Submit(row.Command, opts); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown row type %q in queue %q", row.Type, qname)
		}
	}
	return q, nil
}
