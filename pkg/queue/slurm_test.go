package queue

import (
	"strings"
	"testing"

	"github.com/cmdq-dev/cmdq/pkg/exec"
)

func newTestSlurmQueue(t *testing.T, name string) *SlurmQueue {
	t.Helper()
	return NewSlurmQueue(CreateOptions{
		Name:  name,
		Dpath: t.TempDir(),
		Exec:  &exec.MockCommandExecutor{},
	})
}

func TestSlurmChainTranslation(t *testing.T) {
	q := newTestSlurmQueue(t, "chain")
	first, err := q.Submit("echo first", SubmitOptions{Name: "first", CPUs: 5, Mem: "10GB"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("echo second", SubmitOptions{Name: "second", Depends: []*Job{first}}); err != nil {
		t.Fatal(err)
	}

	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(text, "\n")
	if !strings.HasPrefix(lines[0], "mkdir -p ") {
		t.Errorf("expected log dir creation first, got %q", lines[0])
	}
	if !strings.Contains(text, "--cpus-per-task=5") {
		t.Errorf("expected cpu token:\n%s", text)
	}
	if !strings.Contains(text, "--mem=10240") {
		t.Errorf("expected memory coerced to megabytes:\n%s", text)
	}
	if !strings.Contains(text, `"--dependency=afterok:${JOB_000}"`) {
		t.Errorf("expected dependency on captured job id:\n%s", text)
	}
	if !strings.Contains(text, "JOB_000=$(") || !strings.Contains(text, "JOB_001=$(") {
		t.Errorf("expected captured job variables:\n%s", text)
	}
	if !strings.Contains(text, "--parsable)") {
		t.Errorf("expected parsable capture:\n%s", text)
	}
}

func TestSlurmEmissionIdempotent(t *testing.T) {
	q := newTestSlurmQueue(t, "idem")
	a, err := q.Submit("true", SubmitOptions{Name: "a", Mem: "4GB", Options: BackendOptions{
		Cluster: &ClusterOptions{
			SbatchOpts: map[string]string{"qos": "high", "gres": "gpu:1"},
			Flags:      []string{"requeue"},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("true", SubmitOptions{Name: "b", Depends: []*Job{a}}); err != nil {
		t.Fatal(err)
	}
	text1, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	text2, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if text1 != text2 {
		t.Errorf("expected byte-identical emission:\n--- first\n%s\n--- second\n%s", text1, text2)
	}
}

func TestSlurmWrapQuoting(t *testing.T) {
	q := newTestSlurmQueue(t, "wrap")
	if _, err := q.Submit(`echo "it's quoted"`, SubmitOptions{Name: "quoted"}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "--wrap '") {
		t.Errorf("expected shell-quoted wrap:\n%s", text)
	}
}

func TestSlurmShellWrap(t *testing.T) {
	q := NewSlurmQueue(CreateOptions{
		Name:  "shellwrap",
		Dpath: t.TempDir(),
		Shell: "/bin/bash",
		Exec:  &exec.MockCommandExecutor{},
	})
	if _, err := q.Submit("echo hi", SubmitOptions{Name: "job"}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "/bin/bash -c ") {
		t.Errorf("expected inner shell wrap:\n%s", text)
	}
}

func TestSlurmHeaderCommands(t *testing.T) {
	q := newTestSlurmQueue(t, "hdr")
	q.AddHeaderCommand("export FOO=bar")
	if _, err := q.Submit(`echo "$FOO"`, SubmitOptions{Name: "job"}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "export FOO=bar && sbatch") {
		t.Errorf("expected header joined in front of the submission:\n%s", text)
	}
}

func TestSlurmNoGresSynthesis(t *testing.T) {
	// GPU hints never synthesize a gres string; only the explicit
	// options bag reaches the submission line.
	q := newTestSlurmQueue(t, "gres")
	if _, err := q.Submit("true", SubmitOptions{Name: "hinted", GPUs: 2}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(text, "--gres") {
		t.Errorf("gres must not be synthesized from the GPU hint:\n%s", text)
	}
}

func TestSlurmJobIDDump(t *testing.T) {
	q := newTestSlurmQueue(t, "ids")
	if _, err := q.Submit("true", SubmitOptions{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("true", SubmitOptions{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, `"JOB_000": %s`) || !strings.Contains(text, `"JOB_001": %s`) {
		t.Errorf("expected job id dump keys:\n%s", text)
	}
	if !strings.Contains(text, q.JobIDPath()) {
		t.Errorf("expected job id dump target path:\n%s", text)
	}
}

func TestSlurmKillCancelsByName(t *testing.T) {
	mock := &exec.MockCommandExecutor{}
	q := NewSlurmQueue(CreateOptions{Name: "kill", Dpath: t.TempDir(), Exec: mock})
	if _, err := q.Submit("true", SubmitOptions{Name: "victim"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Kill(); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, command := range mock.Commands {
		if command == "scancel --name=victim" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected scancel by name, commands: %v", mock.Commands)
	}
}

func TestParseScontrolOutput(t *testing.T) {
	output := strings.Join([]string{
		"JobId=307 JobName=J0002-SQ with a space",
		"   Priority=1 Nice=0 Account=(null) QOS=(null)",
		"   JobState=COMPLETED Reason=None Dependency=(null)",
		"   StdErr=/logs/with spaces and = signs.err",
		"   NumNodes=1 NumCPUs=2",
	}, "\n")
	parsed := ParseScontrolOutput(output, ScontrolSpecialKeys)

	if parsed["JobId"] != "307" {
		t.Errorf("JobId = %q", parsed["JobId"])
	}
	if parsed["JobName"] != "J0002-SQ with a space" {
		t.Errorf("JobName = %q", parsed["JobName"])
	}
	if parsed["JobState"] != "COMPLETED" {
		t.Errorf("JobState = %q", parsed["JobState"])
	}
	if parsed["StdErr"] != "/logs/with spaces and = signs.err" {
		t.Errorf("StdErr = %q", parsed["StdErr"])
	}
	if parsed["NumCPUs"] != "2" {
		t.Errorf("NumCPUs = %q", parsed["NumCPUs"])
	}
}

func TestSlurmGarbageCollectsBrokenDependencies(t *testing.T) {
	mock := &exec.MockCommandExecutor{
		OutputFunc: func(name string, arg ...string) (string, error) {
			if name == "squeue" {
				return strings.Join([]string{
					"JOBID PARTITION NAME USER ST TIME NODES NODELIST(REASON)",
					"11 prio stuck me PD 0:00 1 (DependencyNeverSatisfied)",
					"12 prio fine me R 0:10 1 node01",
				}, "\n"), nil
			}
			return "", nil
		},
	}
	q := NewSlurmQueue(CreateOptions{Name: "gc", Dpath: t.TempDir(), Exec: mock})
	if _, err := q.Submit("true", SubmitOptions{Name: "stuck"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("true", SubmitOptions{Name: "fine"}); err != nil {
		t.Fatal(err)
	}
	if err := q.collectQueueGarbage(); err != nil {
		t.Fatal(err)
	}
	cancelled := false
	for _, command := range mock.Commands {
		if command == "scancel --name=stuck" {
			cancelled = true
		}
		if command == "scancel --name=fine" {
			t.Errorf("healthy job must not be cancelled")
		}
	}
	if !cancelled {
		t.Errorf("expected stuck job cancellation, commands: %v", mock.Commands)
	}
}
