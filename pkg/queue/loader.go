package queue

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineJob is one job entry of a pipeline definition file.
type PipelineJob struct {
	Name      string   `yaml:"name" json:"name"`
	Run       string   `yaml:"run" json:"run"`
	Depends   []string `yaml:"depends,omitempty" json:"depends,omitempty"`
	Tags      []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Log       bool     `yaml:"log,omitempty" json:"log,omitempty"`
	CPUs      int      `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	GPUs      int      `yaml:"gpus,omitempty" json:"gpus,omitempty"`
	Mem       string   `yaml:"mem,omitempty" json:"mem,omitempty"`
	Begin     string   `yaml:"begin,omitempty" json:"begin,omitempty"`
	Partition string   `yaml:"partition,omitempty" json:"partition,omitempty"`

	// SbatchOpts and SbatchFlags pass through to the cluster backend.
	SbatchOpts  map[string]string `yaml:"sbatch_opts,omitempty" json:"sbatch_opts,omitempty"`
	SbatchFlags []string          `yaml:"sbatch_flags,omitempty" json:"sbatch_flags,omitempty"`
}

// PipelineSpec is a declarative queue definition loadable from YAML.
type PipelineSpec struct {
	Name   string            `yaml:"name" json:"name"`
	Env    map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Header []string          `yaml:"header,omitempty" json:"header,omitempty"`
	Jobs   []PipelineJob     `yaml:"jobs" json:"jobs"`
}

// LoadPipeline reads and validates a pipeline definition file.
func LoadPipeline(fpath string) (*PipelineSpec, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", fpath, err)
	}
	var spec PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", fpath, err)
	}
	for i, job := range spec.Jobs {
		if job.Run == "" {
			return nil, fmt.Errorf("pipeline %s: job %d has no run command", fpath, i)
		}
	}
	return &spec, nil
}

// Apply submits the pipeline's environment, headers, and jobs to a
// queue. Dependencies are name references, so jobs must be declared
// after the jobs they depend on.
func (spec *PipelineSpec) Apply(q Queue) error {
	if setter, ok := q.(interface{ SetEnv(key, value string) }); ok {
		for key, value := range spec.Env {
			setter.SetEnv(key, value)
		}
	}
	for _, command := range spec.Header {
		q.AddHeaderCommand(command)
	}
	for _, pj := range spec.Jobs {
		opts := SubmitOptions{
			Name:      pj.Name,
			DependsOn: pj.Depends,
			Tags:      CoerceTags(pj.Tags...),
			Log:       pj.Log,
			CPUs:      pj.CPUs,
			GPUs:      pj.GPUs,
			Mem:       pj.Mem,
			Begin:     pj.Begin,
			Partition: pj.Partition,
		}
		if len(pj.SbatchOpts) > 0 || len(pj.SbatchFlags) > 0 {
			opts.Options.Cluster = &ClusterOptions{
				SbatchOpts: pj.SbatchOpts,
				Flags:      pj.SbatchFlags,
			}
		}
		if _, err := q.Submit(pj.Run, opts); err != nil {
			return err
		}
	}
	return nil
}
