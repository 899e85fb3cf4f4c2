package link

import "time"

const (
	DefaultSlack  = 20 * time.Millisecond
	DefaultWarmup = time.Second
)

// DriftTracker compares the wall time elapsed since the first command with
// the playback time the commands asked for. Once past warmup, a command
// transmitted more than slack behind schedule is counted as an underflow:
// the board must have run dry.
type DriftTracker struct {
	slack  time.Duration
	warmup time.Duration

	started    bool
	start      time.Time
	intended   time.Duration
	elapsed    time.Duration
	underflows uint64
}

func NewDriftTracker(slack, warmup time.Duration) *DriftTracker {
	if slack <= 0 {
		slack = DefaultSlack
	}
	if warmup < 0 {
		warmup = DefaultWarmup
	}
	return &DriftTracker{slack: slack, warmup: warmup}
}

// Observe records a transmission at now. Pre is the delay that had to pass
// before this command, post the delay the command holds after it. It
// reports whether the transmission was late.
func (d *DriftTracker) Observe(now time.Time, pre, post time.Duration) bool {
	late := false
	if !d.started {
		d.started = true
		d.start = now
	} else {
		d.intended += pre
		d.elapsed = now.Sub(d.start)
		if d.elapsed > d.warmup && d.elapsed-d.intended > d.slack {
			d.underflows++
			late = true
		}
	}
	d.intended += post
	return late
}

func (d *DriftTracker) Intended() time.Duration {
	return d.intended
}

func (d *DriftTracker) Elapsed() time.Duration {
	return d.elapsed
}

func (d *DriftTracker) Underflows() uint64 {
	return d.underflows
}
