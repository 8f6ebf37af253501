// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

// Package detectkafka is a high-throughput, at-least-once ingestion pipeline
// that streams vehicle detection events from perception CSV output into
// Apache Kafka.
//
// # Overview
//
// A run converts a bounded batch of detection records into acknowledged Kafka
// messages: a streaming reader parses and validates rows incrementally, a
// bounded dispatch queue decouples reading from sending and provides
// backpressure, and a pool of concurrent senders enriches each record with
// run metadata and publishes it with bounded retries. A tracker observes
// every outcome and the pipeline coordinator produces a final summary that
// accounts for every valid input record.
//
// # Quick Start
//
// Create a Publisher and a Pipeline by setting fields directly:
//
//	publisher := &detectkafka.Publisher{
//	    Brokers:          []string{"localhost:9092"},
//	    Topic:            "traffic-sign-detections",
//	    CompressionCodec: detectkafka.CompressionSnappy,
//	    Acks:             detectkafka.AcksAll,
//	}
//	if err := publisher.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer publisher.Stop(context.Background())
//
//	pipeline := &detectkafka.Pipeline{
//	    Input:     "detections.csv",
//	    Publisher: publisher,
//	    VehicleID: "vehicle-001",
//	    SessionID: uuid.NewString(),
//	}
//
//	summary, err := pipeline.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("acked %d of %d valid records\n", summary.Acked, summary.Read-summary.Rejected)
//
// # Delivery Guarantees
//
// Delivery is at-least-once. Every detection is assigned a UUID exactly once,
// before its first publish attempt; retries reuse the identifier and payload
// bytes verbatim, and the identifier doubles as the Kafka record key, so
// consumers can deduplicate a double delivery caused by an ambiguous failure
// such as a timeout after the broker actually accepted the record.
//
// Transient failures (timeouts, broker unavailable, throttling) are retried
// with exponential backoff: 100ms doubling per attempt, five attempts total.
// Permanent failures (authorization, unknown topic, rejected record) fail
// immediately. Either way the record reaches a terminal outcome that is
// counted in the run summary; nothing is silently dropped.
//
// Ordering across senders is best-effort: the reader emits records in source
// order, but concurrent senders may interleave delivery. Consumers that need
// per-run ordering should re-key on session_id downstream.
//
// # Backpressure
//
// The dispatch queue is bounded (default 1000 records). When senders fall
// behind, the reader blocks on enqueue, so memory stays O(queue capacity)
// regardless of input size.
//
// # Observability
//
// Terminal outcomes are broadcast to registered delivery listeners, and a
// progress snapshot (counts, throughput, success rate) is logged on a fixed
// interval while a run is active. Logging uses franz-go's kgo.Logger
// interface; ZerologAdapter bridges it to a zerolog logger.
package detectkafka
