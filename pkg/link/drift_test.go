package link_test

import (
	"testing"
	"time"

	"oplstream/pkg/link"
)

func TestDriftTrackerIgnoresWarmup(t *testing.T) {
	d := link.NewDriftTracker(20*time.Millisecond, time.Second)
	start := time.Unix(0, 0)

	d.Observe(start, 0, 0)
	if late := d.Observe(start.Add(900*time.Millisecond), 0, 0); late {
		t.Fatalf("late transmission counted during warmup")
	}
	if d.Underflows() != 0 {
		t.Fatalf("unexpected underflows: %d", d.Underflows())
	}
}

func TestDriftTrackerSlack(t *testing.T) {
	d := link.NewDriftTracker(20*time.Millisecond, time.Second)
	start := time.Unix(0, 0)

	d.Observe(start, 0, time.Second)
	if d.Intended() != time.Second {
		t.Fatalf("post delay of the first command not counted: %v", d.Intended())
	}
	if late := d.Observe(start.Add(1020*time.Millisecond), 0, 0); late {
		t.Fatalf("transmission within slack counted as late")
	}
	if late := d.Observe(start.Add(1100*time.Millisecond), 90*time.Millisecond, 0); late {
		t.Fatalf("pre delay not added before comparing")
	}
	if late := d.Observe(start.Add(1200*time.Millisecond), 0, 0); !late {
		t.Fatalf("expected late transmission")
	}
	if d.Underflows() != 1 || d.Elapsed() != 1200*time.Millisecond {
		t.Fatalf("unexpected tracker state: underflows %d elapsed %v", d.Underflows(), d.Elapsed())
	}
}

func TestDriftTrackerDefaults(t *testing.T) {
	d := link.NewDriftTracker(0, -1)
	start := time.Unix(0, 0)
	d.Observe(start, 0, 0)
	if late := d.Observe(start.Add(999*time.Millisecond), 0, 0); late {
		t.Fatalf("default warmup not applied")
	}
	if late := d.Observe(start.Add(1100*time.Millisecond), 0, 1090*time.Millisecond); !late {
		t.Fatalf("post delay counted before the late check")
	}
}
