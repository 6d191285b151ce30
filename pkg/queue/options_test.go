package queue

import (
	"testing"
)

func TestCoerceMemMegabytes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"30602", 30602, false},
		{"4GB", 4096, false},
		{"10GB", 10240, false},
		{"32GB", 32768, false},
		{"512MB", 512, false},
		{"2TB", 2 * 1024 * 1024, false},
		{"", 0, false},
		{"-5", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CoerceMemMegabytes(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CoerceMemMegabytes(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestClusterOptionsValidate(t *testing.T) {
	good := &ClusterOptions{
		SbatchOpts: map[string]string{"qos": "high", "gres": "gpu:1"},
		Flags:      []string{"requeue"},
	}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	badKey := &ClusterOptions{SbatchOpts: map[string]string{"job-name": "x"}}
	if err := badKey.Validate(); err == nil {
		t.Error("expected error for option outside the closed set")
	}

	badFlag := &ClusterOptions{Flags: []string{"mem"}}
	if err := badFlag.Validate(); err == nil {
		t.Error("expected error for flag outside the closed set")
	}
}

func TestSubmitRejectsUnknownClusterOption(t *testing.T) {
	q := newTestSerialQueue(t, "opts")
	_, err := q.Submit("true", SubmitOptions{
		Name: "bad",
		Options: BackendOptions{Cluster: &ClusterOptions{
			SbatchOpts: map[string]string{"not-a-thing": "1"},
		}},
	})
	if err == nil {
		t.Fatal("expected unrecognized option to be rejected at submit time")
	}
}

func TestTagsIntersection(t *testing.T) {
	a := CoerceTags("x", "y")
	b := CoerceTags("y", "z")
	isect := a.Intersection(b)
	if len(isect) != 1 || isect[0] != "y" {
		t.Errorf("expected {y}, got %v", isect)
	}
	if a.Intersects(CoerceTags("q")) {
		t.Error("expected no intersection")
	}
	var none Tags
	if none.Intersects(a) {
		t.Error("nil tags never intersect")
	}
}
