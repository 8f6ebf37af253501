// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestTrackerSnapshot tests counter accumulation and the derived pending count.
func TestTrackerSnapshot(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	for i := 0; i < 5; i++ {
		tr.RecordRead()
	}
	tr.RecordRejected()
	for i := 0; i < 4; i++ {
		tr.RecordSent()
	}
	tr.Observe(&DeliveryEvent{Outcome: Acked, Attempts: 1})
	tr.Observe(&DeliveryEvent{Outcome: Acked, Attempts: 3})
	tr.Observe(&DeliveryEvent{Outcome: Failed, Attempts: 5})

	s := tr.Snapshot()
	assert.Equal(t, int64(5), s.Read)
	assert.Equal(t, int64(1), s.Rejected)
	assert.Equal(t, int64(4), s.Sent)
	assert.Equal(t, int64(2), s.Acked)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.Pending, "pending = (read - rejected) - acked - failed")
	assert.Equal(t, int64(6), s.Retries, "retries count attempts beyond the first")
	assert.Greater(t, s.Elapsed, time.Duration(0))
}

// TestTrackerConcurrentObserve tests that senders can observe outcomes
// concurrently without losing counts.
func TestTrackerConcurrentObserve(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				tr.RecordRead()
				tr.RecordSent()
				tr.Observe(&DeliveryEvent{Outcome: Acked, Attempts: 2})
			}
		}()
	}
	wg.Wait()

	s := tr.Snapshot()
	total := int64(goroutines * perGoroutine)
	assert.Equal(t, total, s.Read)
	assert.Equal(t, total, s.Sent)
	assert.Equal(t, total, s.Acked)
	assert.Equal(t, total, s.Retries)
	assert.Zero(t, s.Pending)
}

// TestSnapshotRates tests the derived throughput and success rate.
func TestSnapshotRates(t *testing.T) {
	t.Parallel()

	t.Run("success rate", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1.0, Snapshot{}.SuccessRate(), "no terminal outcomes yet")
		assert.Equal(t, 1.0, Snapshot{Acked: 10}.SuccessRate())
		assert.Equal(t, 0.75, Snapshot{Acked: 3, Failed: 1}.SuccessRate())
		assert.Equal(t, 0.0, Snapshot{Failed: 4}.SuccessRate())
	})

	t.Run("throughput", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.0, Snapshot{Acked: 10}.Throughput(), "zero elapsed")
		assert.Equal(t, 5.0, Snapshot{Acked: 10, Elapsed: 2 * time.Second}.Throughput())
	})
}
