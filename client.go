// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaClient is an interface for the franz-go Kafka client methods we need.
// This allows us to mock the client for testing while using the real
// kgo.Client in production.
type kafkaClient interface {
	// ProduceSync produces records synchronously and waits for broker
	// acknowledgment. One record per call in this pipeline; the retry loop
	// wraps it.
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults

	// Ping checks broker connectivity. Used at startup so an unreachable
	// cluster fails the run before any sends are attempted.
	Ping(ctx context.Context) error

	// Flush flushes all buffered records and waits for them to be sent.
	Flush(ctx context.Context) error

	// Close closes the Kafka client and releases resources.
	Close()

	// BufferedProduceRecords returns the current number of buffered records.
	BufferedProduceRecords() int64

	// BufferedProduceBytes returns the current number of buffered bytes.
	BufferedProduceBytes() int64
}

// Verify that *kgo.Client implements kafkaClient interface at compile time.
var _ kafkaClient = (*kgo.Client)(nil)
