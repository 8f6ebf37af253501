// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/twmb/franz-go/pkg/kgo"
)

// mockKafkaClient is a mock implementation of kafkaClient for testing.
type mockKafkaClient struct {
	mock.Mock
}

func (m *mockKafkaClient) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	args := m.Called(ctx, rs)
	return args.Get(0).(kgo.ProduceResults)
}

func (m *mockKafkaClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockKafkaClient) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockKafkaClient) Close() {
	m.Called()
}

func (m *mockKafkaClient) BufferedProduceRecords() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

func (m *mockKafkaClient) BufferedProduceBytes() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

// okResults is a ProduceSync result representing broker acknowledgment.
func okResults() kgo.ProduceResults {
	return kgo.ProduceResults{{Record: &kgo.Record{}}}
}

// errResults is a ProduceSync result representing a failed attempt.
func errResults(err error) kgo.ProduceResults {
	return kgo.ProduceResults{{Record: &kgo.Record{}, Err: err}}
}
