package queue

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func newTestSerialQueue(t *testing.T, name string) *SerialQueue {
	t.Helper()
	return NewSerialQueue(CreateOptions{Name: name, Dpath: t.TempDir()})
}

func TestSerialQueueSubmitAndCount(t *testing.T) {
	q := newTestSerialQueue(t, "test-serial-queue")
	if _, err := q.Submit("echo hi 1", SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("echo hi 2", SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	if q.NumRealJobs() != 2 {
		t.Errorf("expected 2 real jobs, got %d", q.NumRealJobs())
	}
}

func TestSerialQueueDuplicateName(t *testing.T) {
	q := newTestSerialQueue(t, "dup")
	if _, err := q.Submit("true", SubmitOptions{Name: "job1"}); err != nil {
		t.Fatal(err)
	}
	_, err := q.Submit("false", SubmitOptions{Name: "job1"})
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestSerialQueueUnknownDependency(t *testing.T) {
	q := newTestSerialQueue(t, "fwd")
	_, err := q.Submit("true", SubmitOptions{Name: "job1", DependsOn: []string{"later"}})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency for a forward reference, got %v", err)
	}
}

func TestSerialQueueTopologicalEmission(t *testing.T) {
	// For every edge u -> v, u's fragment must textually precede v's.
	q := newTestSerialQueue(t, "topo")
	j1, err := q.Submit("echo a", SubmitOptions{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	j2, err := q.Submit("echo b", SubmitOptions{Name: "b", Depends: []*Job{j1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("echo c", SubmitOptions{Name: "c", Depends: []*Job{j2}}); err != nil {
		t.Fatal(err)
	}

	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true})
	if err != nil {
		t.Fatal(err)
	}
	posA := strings.Index(text, "### Command 1 / 3 - a")
	posB := strings.Index(text, "### Command 2 / 3 - b")
	posC := strings.Index(text, "### Command 3 / 3 - c")
	if posA < 0 || posB < 0 || posC < 0 {
		t.Fatalf("expected all three job fragments:\n%s", text)
	}
	if !(posA < posB && posB < posC) {
		t.Errorf("expected a before b before c, got positions %d %d %d", posA, posB, posC)
	}
}

func TestSerialQueueScriptStructure(t *testing.T) {
	q := newTestSerialQueue(t, "struct")
	q.SetEnv("MYVAR", "1")
	q.AddHeaderCommand("echo header")
	if _, err := q.Submit("echo hi", SubmitOptions{Name: "job"}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true})
	if err != nil {
		t.Fatal(err)
	}
	checks := []string{
		"#!/bin/bash",
		"# Written by cmdq " + Version,
		"set -e",
		`(( "_CMD_QUEUE_NUM_FAILED=0" )) || true`,
		"_CMD_QUEUE_TOTAL=1",
		`_CMD_QUEUE_STATUS="init"`,
		`export MYVAR="1"`,
		"echo header",
		`_CMD_QUEUE_STATUS="run"`,
		`(( "_CMD_QUEUE_NUM_PASSED=_CMD_QUEUE_NUM_PASSED+1" )) || true`,
		`(( "_CMD_QUEUE_NUM_SKIPPED=_CMD_QUEUE_NUM_SKIPPED+1" )) || true`,
		`_CMD_QUEUE_STATUS="done"`,
		`echo "Command Queue Final Status:"`,
		"set +e",
	}
	for _, want := range checks {
		if !strings.Contains(text, want) {
			t.Errorf("expected script to contain %q", want)
		}
	}
	// The state dump carries exactly the documented keys.
	for _, key := range []string{`"status"`, `"passed"`, `"failed"`, `"skipped"`, `"total"`, `"name"`, `"rootid"`} {
		if !strings.Contains(text, key+": ") {
			t.Errorf("expected state dump key %s", key)
		}
	}
}

func TestSerialQueueBookkeeperInvisibility(t *testing.T) {
	q := newTestSerialQueue(t, "bk")
	if _, err := q.Submit("echo real", SubmitOptions{Name: "real"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("touch flag", SubmitOptions{Name: "keeper", Bookkeeper: true}); err != nil {
		t.Fatal(err)
	}
	if q.NumRealJobs() != 1 {
		t.Fatalf("bookkeeper must not count as a real job, got %d", q.NumRealJobs())
	}
	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "_CMD_QUEUE_TOTAL=1") {
		t.Errorf("expected total of 1:\n%s", text)
	}
	// The bookkeeper fragment is emitted but carries no counter hooks.
	if !strings.Contains(text, "touch flag") {
		t.Errorf("expected bookkeeper fragment to be emitted")
	}
	if strings.Count(text, "_CMD_QUEUE_NUM_PASSED=_CMD_QUEUE_NUM_PASSED+1") != 1 {
		t.Errorf("expected exactly one pass-counter hook (the real job's)")
	}
}

func TestSerialQueueBookkeeperExcludedWithoutLocks(t *testing.T) {
	q := newTestSerialQueue(t, "nolocks")
	if _, err := q.Submit("touch flag", SubmitOptions{Name: "keeper", Bookkeeper: true}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{WithStatus: true, WithGuards: true, WithLocks: false})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(text, "touch flag") {
		t.Errorf("expected bookkeeper fragment to collapse away without locks:\n%s", text)
	}
}

func TestSerialQueueTagFilter(t *testing.T) {
	q := newTestSerialQueue(t, "tags")
	if _, err := q.Submit("echo keep", SubmitOptions{Name: "keep"}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("echo boilerplate", SubmitOptions{Name: "extra", Tags: CoerceTags("boilerplate")}); err != nil {
		t.Fatal(err)
	}
	text, err := q.FinalizeText(EmitOptions{
		WithStatus: true, WithGuards: true, WithLocks: true,
		ExcludeTags: CoerceTags("boilerplate"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(text, "echo boilerplate") {
		t.Errorf("expected tagged job to be excluded:\n%s", text)
	}
	if !strings.Contains(text, "echo keep") {
		t.Errorf("expected untagged job to survive:\n%s", text)
	}
}

func TestSerialQueueSync(t *testing.T) {
	q := newTestSerialQueue(t, "sync")
	a, err := q.Submit("true", SubmitOptions{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := q.Submit("true", SubmitOptions{Name: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Sync(); err != nil {
		t.Fatal(err)
	}
	c, err := q.Submit("true", SubmitOptions{Name: "c"})
	if err != nil {
		t.Fatal(err)
	}
	deps := map[string]bool{}
	for _, dep := range c.Depends {
		deps[dep.Name] = true
	}
	if !deps[a.Name] || !deps[b.Name] {
		t.Errorf("expected c to depend on both sinks, got %v", deps)
	}
}

func TestSerialQueueWriteIsExecutable(t *testing.T) {
	q := newTestSerialQueue(t, "write")
	if _, err := q.Submit("true", SubmitOptions{Name: "job"}); err != nil {
		t.Fatal(err)
	}
	fpath, err := q.Write()
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(fpath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("expected script to be executable, mode %v", info.Mode())
	}
	data, err := os.ReadFile(fpath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "#!/bin/bash") {
		t.Errorf("expected shebang at start of script")
	}
}

func TestSerialQueueDistinctRunsWriteDistinctPaths(t *testing.T) {
	// The rootid embeds a fresh random suffix, so two runs of the same
	// queue never overwrite each other's artifacts.
	q1 := NewSerialQueue(CreateOptions{Name: "same"})
	q2 := NewSerialQueue(CreateOptions{Name: "same"})
	if q1.PathID() == q2.PathID() {
		t.Fatalf("expected distinct path ids, both %q", q1.PathID())
	}
	if q1.ScriptPath() == q2.ScriptPath() {
		t.Errorf("expected distinct script paths")
	}
	j1, err := q1.Submit("true", SubmitOptions{Name: "j"})
	if err != nil {
		t.Fatal(err)
	}
	j2, err := q2.Submit("true", SubmitOptions{Name: "j"})
	if err != nil {
		t.Fatal(err)
	}
	if j1.PassPath() == j2.PassPath() {
		t.Errorf("expected distinct pass marker paths")
	}
}

func TestSerialQueueReadStateMissing(t *testing.T) {
	q := newTestSerialQueue(t, "nostate")
	if _, err := q.Submit("true", SubmitOptions{}); err != nil {
		t.Fatal(err)
	}
	state, err := q.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != "unknown" {
		t.Errorf("expected unknown status before any run, got %q", state.Status)
	}
	if state.Total != 1 {
		t.Errorf("expected total from the queue itself, got %d", state.Total)
	}
}
