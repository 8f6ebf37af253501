// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"sync/atomic"
	"time"
)

// Tracker accumulates per-run delivery counters. All counters are atomics so
// every sender can update them concurrently; no lock is ever held across a
// network call.
//
// Counter semantics:
//   - Read/Rejected: rows consumed from the input and rows skipped as invalid
//   - Sent: records handed to the publisher for delivery; counted once per
//     record, and never for records dequeued after cancellation
//   - Acked/Failed: terminal outcomes
//   - Retries: extra attempts beyond the first, across all detections
//
// Pending is derived, never stored: valid records read minus terminal
// outcomes. At the end of a clean run it is zero; after a timeout it is the
// exact count of records that never reached a terminal state.
type Tracker struct {
	read     atomic.Int64
	rejected atomic.Int64
	sent     atomic.Int64
	acked    atomic.Int64
	failed   atomic.Int64
	retries  atomic.Int64

	started time.Time
}

// NewTracker creates a Tracker; elapsed time is measured from this call.
func NewTracker() *Tracker {
	return &Tracker{started: time.Now()}
}

func (t *Tracker) RecordRead()     { t.read.Add(1) }
func (t *Tracker) RecordRejected() { t.rejected.Add(1) }
func (t *Tracker) RecordSent()     { t.sent.Add(1) }

// Observe folds a terminal DeliveryEvent into the counters. Registered as a
// delivery listener on the Publisher.
func (t *Tracker) Observe(e *DeliveryEvent) {
	if e.Attempts > 1 {
		t.retries.Add(int64(e.Attempts - 1))
	}
	switch e.Outcome {
	case Acked:
		t.acked.Add(1)
	case Failed:
		t.failed.Add(1)
	}
}

// Snapshot is a point-in-time view of the run's counters with derived rates.
type Snapshot struct {
	Read     int64
	Rejected int64
	Sent     int64
	Acked    int64
	Failed   int64
	Pending  int64
	Retries  int64
	Elapsed  time.Duration
}

// Snapshot returns the current counters. Counters are read individually, so a
// snapshot taken mid-run may be off by in-flight updates; the final summary is
// taken after all senders have exited and is exact.
func (t *Tracker) Snapshot() Snapshot {
	read := t.read.Load()
	rejected := t.rejected.Load()
	acked := t.acked.Load()
	failed := t.failed.Load()

	return Snapshot{
		Read:     read,
		Rejected: rejected,
		Sent:     t.sent.Load(),
		Acked:    acked,
		Failed:   failed,
		Pending:  (read - rejected) - acked - failed,
		Retries:  t.retries.Load(),
		Elapsed:  time.Since(t.started),
	}
}

// Throughput returns acknowledged messages per elapsed second.
func (s Snapshot) Throughput() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Acked) / secs
}

// SuccessRate returns acked / (acked + failed), or 1 when nothing has reached
// a terminal state yet.
func (s Snapshot) SuccessRate() float64 {
	terminal := s.Acked + s.Failed
	if terminal == 0 {
		return 1
	}
	return float64(s.Acked) / float64(terminal)
}

// Summary is the final run report, computed once all senders have exited or
// the run deadline fired. Records still pending at a deadline are reported,
// never silently dropped.
type Summary struct {
	Snapshot

	// State is the pipeline state at the time the summary was taken
	// (normally Terminated).
	State State
}
