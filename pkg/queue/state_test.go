package queue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadWorkerStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "state.txt")
	content := `{"status": "run", "passed": 2, "failed": 1, "skipped": 0, "total": 4, "name": "w0", "rootid": "r1"}` + "\n"
	if err := os.WriteFile(fpath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	state, err := readWorkerState(fpath, "w0", 4)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != "run" || state.Passed != 2 || state.Failed != 1 || state.Total != 4 {
		t.Errorf("unexpected state: %+v", state)
	}
	if state.RootID != "r1" {
		t.Errorf("expected rootid round trip, got %q", state.RootID)
	}
}

func TestReadWorkerStateMissingFile(t *testing.T) {
	state, err := readWorkerState(filepath.Join(t.TempDir(), "absent"), "w0", 7)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != "unknown" || state.Total != 7 {
		t.Errorf("expected unknown fallback, got %+v", state)
	}
}

func TestReadWorkerStateBoundedRetry(t *testing.T) {
	// A permanently torn file must surface ErrMonitor after the retry
	// budget is exhausted, not loop forever.
	dir := t.TempDir()
	fpath := filepath.Join(dir, "state.txt")
	if err := os.WriteFile(fpath, []byte(`{"status": "ru`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := readWorkerState(fpath, "w0", 1)
	if !errors.Is(err, ErrMonitor) {
		t.Fatalf("expected ErrMonitor, got %v", err)
	}
}

func TestAggregateStates(t *testing.T) {
	states := []WorkerState{
		{Status: "done", Passed: 2, Failed: 0, Skipped: 0, Total: 2, Name: "w0", RootID: "r"},
		{Status: "done", Passed: 1, Failed: 1, Skipped: 1, Total: 3, Name: "w1", RootID: "r"},
	}
	agg, finished := aggregateStates(states)
	if !finished {
		t.Error("expected finished aggregate")
	}
	if agg.Status != "done" {
		t.Errorf("expected done, got %q", agg.Status)
	}
	if agg.Passed != 3 || agg.Failed != 1 || agg.Skipped != 1 || agg.Total != 5 {
		t.Errorf("unexpected sums: %+v", agg)
	}
}

func TestAggregateStatesUnknownWorkerKeepsRunning(t *testing.T) {
	states := []WorkerState{
		{Status: "done", Passed: 1, Total: 1},
		{Status: "unknown"},
	}
	agg, finished := aggregateStates(states)
	if finished {
		t.Error("an unknown worker must keep the aggregate unfinished")
	}
	if agg.Status != "run" {
		t.Errorf("expected run, got %q", agg.Status)
	}
	if agg.Total != 1 {
		t.Errorf("unknown workers contribute nothing to sums, got total %d", agg.Total)
	}
}
