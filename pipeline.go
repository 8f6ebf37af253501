// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// State is the pipeline lifecycle state.
type State int32

const (
	// Idle: constructed, Run not yet called.
	Idle State = iota

	// Running: reader producing, senders publishing.
	Running

	// Draining: input exhausted; queued records still being published.
	Draining

	// Terminated: all senders exited; summary available.
	Terminated
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

const (
	// DefaultWorkers is the number of concurrent senders.
	DefaultWorkers = 10

	// DefaultQueueCapacity bounds the dispatch queue between the reader and
	// the senders; a full queue blocks the reader, capping memory at O(C)
	// records regardless of input size.
	DefaultQueueCapacity = 1000

	// DefaultReportInterval is how often the live progress snapshot is logged.
	DefaultReportInterval = 5 * time.Second
)

// Pipeline coordinates one ingestion run: a streaming reader feeding a
// bounded dispatch queue drained by a pool of concurrent senders, with a
// tracker observing every outcome.
//
// Configure by setting fields, then call Run once. A Pipeline is not
// reusable across runs; vehicle and session identifiers are run-scoped and
// immutable.
type Pipeline struct {
	// Input is the path to the detection CSV file. Required.
	Input string

	// Publisher delivers enriched detections to the broker. Required, and
	// started/stopped by the caller.
	Publisher *Publisher

	// VehicleID and SessionID are stamped on every detection in the run.
	// Both required.
	VehicleID string
	SessionID string

	// Workers is the sender pool size. Zero or negative means DefaultWorkers.
	Workers int

	// QueueCapacity bounds the dispatch queue. Zero or negative means
	// DefaultQueueCapacity.
	QueueCapacity int

	// Mode selects streaming or batch input consumption. Empty means stream.
	Mode Mode

	// Deadline bounds total run wall time. Zero means no pipeline-imposed
	// deadline (the caller's ctx still applies).
	Deadline time.Duration

	// ReportInterval is how often a progress snapshot is logged while the
	// run is active. Zero means DefaultReportInterval; negative disables.
	ReportInterval time.Duration

	// Logger receives pipeline lifecycle and progress logs.
	// Optional. If nil, a no-op logger will be used.
	Logger kgo.Logger

	// --- INTERNAL FIELDS ---

	logger kgo.Logger
	state  atomic.Int32
	ran    atomic.Bool

	// tracker is published atomically so Summary can be polled from other
	// goroutines while Run is active.
	tracker atomic.Pointer[Tracker]
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.logger.Log(kgo.LogLevelDebug, "pipeline state", "state", s.String())
}

// validate checks the run configuration before anything starts.
func (p *Pipeline) validate() error {
	if p.Input == "" {
		return errors.Join(ErrValidation, fmt.Errorf("input path is required"))
	}
	if p.Publisher == nil {
		return errors.Join(ErrValidation, fmt.Errorf("publisher is required"))
	}
	if p.VehicleID == "" {
		return errors.Join(ErrValidation, fmt.Errorf("vehicle id is required"))
	}
	if p.SessionID == "" {
		return errors.Join(ErrValidation, fmt.Errorf("session id is required"))
	}
	return validateMode(p.Mode)
}

// Run executes the pipeline to completion and returns the final summary.
//
// Lifecycle: Idle → Running (reader started, senders spawned) → Draining
// (input exhausted, queue emptying) → Terminated (all senders exited).
//
// Cancellation: when ctx is done or Deadline fires, the reader stops
// producing and senders finish the attempt already in flight but start no new
// ones. Records never handed to the publisher, whether still queued or
// dequeued after cancellation, are reported as pending in the summary.
//
// The returned error is non-nil only for fatal startup problems (bad
// configuration, unreadable input); per-row and per-message errors are
// absorbed into the summary counters.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if !p.ran.CompareAndSwap(false, true) {
		return Summary{State: p.State()}, errors.Join(ErrValidation, fmt.Errorf("pipeline already ran"))
	}

	p.logger = p.Logger
	if p.logger == nil {
		p.logger = &nopLogger{}
	}

	if err := p.validate(); err != nil {
		p.setState(Terminated)
		return Summary{State: Terminated}, err
	}

	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	capacity := p.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	tracker := NewTracker()
	p.tracker.Store(tracker)
	removeListener := p.Publisher.AddDeliveryListener(tracker.Observe)
	defer removeListener()

	reader := NewCSVReader(p.Input, p.logger)
	reader.Tracker = tracker

	p.setState(Running)
	p.logger.Log(kgo.LogLevelInfo, "pipeline started",
		"input", p.Input, "mode", string(p.modeOrDefault()),
		"workers", workers, "queue_capacity", capacity,
		"vehicle_id", p.VehicleID, "session_id", p.SessionID)

	// The dispatch queue. Bounded; a full queue blocks the reader
	// (backpressure) and close-after-last-record lets senders drain every
	// remaining slot before exiting their pull loop.
	queue := make(chan *Record, capacity)

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- p.produce(ctx, reader, queue)
		close(queue)
		// Input finished (or was cancelled); senders drain what is queued.
		if p.State() == Running {
			p.setState(Draining)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.sender(ctx, i, queue, &wg)
	}

	stopReport := p.startReporter(ctx)

	wg.Wait()
	stopReport()
	p.setState(Terminated)

	readErr := <-readErrCh

	summary := Summary{Snapshot: tracker.Snapshot(), State: Terminated}
	p.logger.Log(kgo.LogLevelInfo, "pipeline finished",
		"read", summary.Read, "rejected", summary.Rejected,
		"sent", summary.Sent, "acked", summary.Acked,
		"failed", summary.Failed, "pending", summary.Pending,
		"retries", summary.Retries,
		"elapsed", summary.Elapsed.String(),
		"throughput_per_sec", fmt.Sprintf("%.2f", summary.Throughput()),
		"success_rate", fmt.Sprintf("%.4f", summary.SuccessRate()))

	// Cancellation is a normal way for a run to end; only real input
	// failures surface as errors.
	if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
		return summary, readErr
	}
	return summary, nil
}

// Summary returns the counters of the current or finished run. Before Run it
// returns a zero Summary in state Idle. Safe to call from any goroutine while
// Run is active.
func (p *Pipeline) Summary() Summary {
	tracker := p.tracker.Load()
	if tracker == nil {
		return Summary{State: p.State()}
	}
	return Summary{Snapshot: tracker.Snapshot(), State: p.State()}
}

func (p *Pipeline) modeOrDefault() Mode {
	if p.Mode == "" {
		return ModeStream
	}
	return p.Mode
}

// produce feeds the dispatch queue from the input according to the run mode.
func (p *Pipeline) produce(ctx context.Context, reader *CSVReader, queue chan<- *Record) error {
	if p.modeOrDefault() == ModeBatch {
		records, _, err := reader.ReadAll(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			select {
			case queue <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	_, err := reader.Stream(ctx, queue)
	return err
}

// sender is one worker's pull-enrich-publish loop. Each dequeued record is
// enriched exactly once, so the detection identifier exists before the first
// publish attempt, and the publisher resolves it to a terminal outcome.
func (p *Pipeline) sender(ctx context.Context, id int, queue <-chan *Record, wg *sync.WaitGroup) {
	defer wg.Done()

	tracker := p.tracker.Load()
	for {
		select {
		case <-ctx.Done():
			p.logger.Log(kgo.LogLevelDebug, "sender stopping on cancellation", "sender", id)
			return
		case rec, ok := <-queue:
			if !ok {
				p.logger.Log(kgo.LogLevelDebug, "sender drained queue", "sender", id)
				return
			}

			// A record dequeued after cancellation is never handed to the
			// publisher; it stays pending in the summary.
			if ctx.Err() != nil {
				p.logger.Log(kgo.LogLevelDebug, "sender stopping on cancellation", "sender", id)
				return
			}

			d := NewDetection(rec, p.VehicleID, p.SessionID)
			tracker.RecordSent()
			// Terminal outcome reaches the tracker via the delivery listener.
			p.Publisher.Publish(ctx, d)
		}
	}
}

// startReporter logs a progress snapshot on a fixed interval while the run is
// active. Returns a stop function.
func (p *Pipeline) startReporter(ctx context.Context) func() {
	interval := p.ReportInterval
	if interval == 0 {
		interval = DefaultReportInterval
	}
	if interval < 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := p.tracker.Load().Snapshot()
				p.logger.Log(kgo.LogLevelInfo, "progress",
					"state", p.State().String(),
					"read", s.Read, "rejected", s.Rejected,
					"sent", s.Sent, "acked", s.Acked,
					"failed", s.Failed, "pending", s.Pending,
					"throughput_per_sec", fmt.Sprintf("%.2f", s.Throughput()))
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
