package queue

import (
	"strings"
	"testing"
)

func TestNewJobPathID(t *testing.T) {
	job := NewJob("echo hi", "myjob")
	if !strings.HasPrefix(job.PathID, "myjob_") {
		t.Errorf("expected path id prefixed by the name, got %q", job.PathID)
	}
	if len(job.PathID) != len("myjob_")+8 {
		t.Errorf("expected an 8-character suffix, got %q", job.PathID)
	}
	other := NewJob("echo hi", "myjob")
	if other.PathID == job.PathID {
		t.Errorf("expected distinct path ids for repeated construction")
	}
}

func TestJobDerivedPaths(t *testing.T) {
	job := NewJob("true", "j")
	job.InfoDir = "/tmp/info"
	if job.PassPath() != "/tmp/info/passed/"+job.PathID+".pass" {
		t.Errorf("unexpected pass path %q", job.PassPath())
	}
	if job.FailPath() != "/tmp/info/failed/"+job.PathID+".fail" {
		t.Errorf("unexpected fail path %q", job.FailPath())
	}
	if job.StatPath() != "/tmp/info/status/"+job.PathID+".stat" {
		t.Errorf("unexpected stat path %q", job.StatPath())
	}
	if job.LogPath() != "/tmp/info/status/"+job.PathID+".logs" {
		t.Errorf("unexpected log path %q", job.LogPath())
	}
}
