// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build integration

package detectkafka_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/sentinelmap/detectkafka"
)

const messageConsumeWait = 10 * time.Second

// setupKafka starts Kafka using testcontainers and returns the container and
// broker address. Cleanup is registered automatically.
func setupKafka(t *testing.T) (*kafka.KafkaContainer, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := kafka.RunContainer(ctx,
		testcontainers.WithImage("confluentinc/confluent-local:7.8.0"),
		kafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err, "Failed to start Kafka container")

	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "Failed to get Kafka brokers")
	require.NotEmpty(t, brokers, "No Kafka brokers available")

	broker := brokers[0]
	t.Logf("Kafka broker available at: %s", broker)

	require.NoError(t, waitForKafka(ctx, t, broker))

	return kafkaContainer, broker
}

// waitForKafka attempts to connect to the broker until it responds or timeout.
func waitForKafka(ctx context.Context, t *testing.T, broker string) error {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		client, err := kgo.NewClient(
			kgo.SeedBrokers(broker),
			kgo.RequestTimeoutOverhead(5*time.Second),
		)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := client.Ping(pingCtx)
			cancel()
			client.Close()

			if err == nil {
				t.Log("Kafka is ready!")
				return nil
			}
			t.Logf("Kafka not ready yet: %v", err)
		}

		time.Sleep(1 * time.Second)
	}

	return context.DeadlineExceeded
}

// createTestPublisher creates a Publisher pointed at the test broker.
func createTestPublisher(t *testing.T, broker, topic string) *detectkafka.Publisher {
	t.Helper()

	return &detectkafka.Publisher{
		Brokers:                []string{broker},
		Topic:                  topic,
		AllowAutoTopicCreation: true, // integration tests create topics on the fly
		RequestTimeout:         30 * time.Second,
	}
}

// writeTestCSV writes CSV content to a temp file and returns its path.
func writeTestCSV(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "detections.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// consumeMessages consumes records from a topic until timeout.
func consumeMessages(t *testing.T, broker string, topic string, timeout time.Duration) []*kgo.Record {
	t.Helper()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err, "Failed to create Kafka consumer")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var records []*kgo.Record
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			t.Logf("Fetch error on %s[%d]: %v", topic, partition, err)
		})

		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})

		// If records arrived, allow a moment for stragglers then stop.
		if len(records) > 0 {
			time.Sleep(500 * time.Millisecond)
			fetches = client.PollFetches(ctx)
			fetches.EachRecord(func(r *kgo.Record) {
				records = append(records, r)
			})
			break
		}

		time.Sleep(100 * time.Millisecond)
	}

	return records
}

// decodeDetection decodes the JSON detection carried by a Kafka record.
func decodeDetection(t *testing.T, record *kgo.Record) *detectkafka.Detection {
	t.Helper()

	d, err := detectkafka.DecodeDetection(record.Value)
	require.NoError(t, err, "Failed to decode detection")
	return d
}

// headerValue returns the value of a named record header, or "".
func headerValue(record *kgo.Record, key string) string {
	for _, h := range record.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
