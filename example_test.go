// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sentinelmap/detectkafka"
)

// Example demonstrates a complete ingestion run from a CSV file into Kafka.
func Example() {
	publisher := &detectkafka.Publisher{
		Brokers:          []string{"localhost:9092"},
		Topic:            "traffic-sign-detections",
		CompressionCodec: detectkafka.CompressionSnappy,
		Acks:             detectkafka.AcksAll,
	}

	ctx := context.Background()
	if err := publisher.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer publisher.Stop(context.Background())

	pipeline := &detectkafka.Pipeline{
		Input:     "detection_results.csv",
		Publisher: publisher,
		VehicleID: "vehicle-001",
		SessionID: "session-abc123",
		Workers:   10,
	}

	summary, err := pipeline.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("acked %d of %d rows (%.1f msg/s)\n",
		summary.Acked, summary.Read, summary.Throughput())
}

// ExamplePublisher demonstrates creating and configuring a Publisher.
func ExamplePublisher() {
	publisher := &detectkafka.Publisher{
		// Kafka cluster configuration
		Brokers: []string{"localhost:9092", "localhost:9093"},
		Topic:   "traffic-sign-detections",

		// Producer tuning (optional)
		CompressionCodec: detectkafka.CompressionSnappy,
		Acks:             detectkafka.AcksAll,
		Linger:           10 * time.Millisecond,

		// Buffer limits (optional - 0 means unlimited)
		MaxBufferedRecords: 10000,
		MaxBufferedBytes:   10 * 1024 * 1024, // 10 MB

		// Timeouts (optional - 0 means no timeout)
		RequestTimeout: 30 * time.Second,
		CleanupTimeout: 90 * time.Second,

		// Retry behavior (optional - defaults: 5 attempts, 100ms base backoff)
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
	}

	if err := publisher.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start publisher: %v", err)
	}
	defer publisher.Stop(context.Background())

	fmt.Println("Publisher started successfully")
}

// Example_observability demonstrates delivery listeners for metrics collection.
func Example_observability() {
	publisher := &detectkafka.Publisher{
		Brokers: []string{"localhost:9092"},
		Topic:   "traffic-sign-detections",
	}

	publisher.InitialDeliveryListeners = []func(*detectkafka.DeliveryEvent){
		func(event *detectkafka.DeliveryEvent) {
			if event.Error != nil {
				log.Printf("delivery failed: %s after %d attempts (%s)",
					event.DetectionID, event.Attempts, event.ErrorType)
			} else {
				log.Printf("delivered: %s class=%s in %v",
					event.DetectionID, event.ClassName, event.Duration)
			}
		},
	}
	defer publisher.Stop(context.Background())

	fmt.Println("Delivery listener registered")
	// Output: Delivery listener registered
}

// Example_errorHandling demonstrates typed error handling.
func Example_errorHandling() {
	publisher := &detectkafka.Publisher{
		Brokers: []string{"localhost:9092"},
		Topic:   "traffic-sign-detections",
	}
	defer publisher.Stop(context.Background())

	rec, err := detectkafka.ParseRow([]string{"75", "2.500", "1737.28", "630.06", "0.5249", "stop sign"})
	if err != nil {
		log.Fatal(err)
	}

	d := detectkafka.NewDetection(rec, "vehicle-001", "session-001")
	_, _, err = publisher.Publish(context.Background(), d)
	if err != nil {
		switch {
		case errors.Is(err, detectkafka.ErrNotStarted):
			fmt.Println("Publisher not started")
		case errors.Is(err, detectkafka.ErrUnauthorized):
			fmt.Println("Authentication or authorization failure")
		case errors.Is(err, detectkafka.ErrUnknownDestination):
			fmt.Println("Destination topic does not exist")
		case errors.Is(err, detectkafka.ErrRetriesExhausted):
			fmt.Println("All attempts failed")
		default:
			fmt.Println("Kafka or network error")
		}
	}
	// Output: Publisher not started
}

// ExamplePipeline_Summary demonstrates reading progress while a run is active.
func ExamplePipeline_Summary() {
	pipeline := &detectkafka.Pipeline{
		Input:     "detection_results.csv",
		Publisher: &detectkafka.Publisher{Brokers: []string{"localhost:9092"}, Topic: "detections"},
		VehicleID: "vehicle-001",
		SessionID: "session-abc123",
	}

	s := pipeline.Summary()
	fmt.Printf("state=%s read=%d pending=%d\n", s.State, s.Read, s.Pending)
	// Output: state=Idle read=0 pending=0
}
