// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/xmidt-org/eventor"
)

// DeliveryEvent represents the terminal outcome of one detection's delivery.
// An event is dispatched exactly once per detection, when it reaches Acked or
// Failed.
type DeliveryEvent struct {
	// DetectionID is the idempotence key of the detection.
	DetectionID string

	// Topic is the Kafka topic the record was published to (or attempted).
	Topic string

	// ClassName is the detection class, for per-class metrics.
	ClassName string

	// Outcome is the terminal outcome (Acked or Failed).
	Outcome Outcome

	// Attempts is the number of publish attempts made, including the first.
	Attempts int

	// Error is the error that ended delivery (nil for Acked).
	Error error

	// ErrorType is the error classification (empty for Acked).
	// Values: "broker_error", "timeout", "unauthorized", "retries_exhausted", etc.
	ErrorType string

	// Duration is the time from the first publish attempt to the terminal
	// outcome, including backoff sleeps.
	Duration time.Duration
}

// clientFactory is a function that creates a Kafka client from options.
// This allows dependency injection for testing.
type clientFactory func(opts ...kgo.Opt) (kafkaClient, error)

// defaultClientFactory is the production client factory that uses franz-go.
func defaultClientFactory(opts ...kgo.Opt) (kafkaClient, error) {
	return kgo.NewClient(opts...)
}

const (
	// DefaultMaxAttempts is the total number of publish attempts per
	// detection, including the first.
	DefaultMaxAttempts = 5

	// DefaultBaseBackoff is the delay before the first retry; it doubles on
	// each subsequent retry.
	DefaultBaseBackoff = 100 * time.Millisecond
)

// Publisher publishes enriched detections to a single Kafka destination topic
// with bounded retries and a stable idempotence key per detection.
//
// Thread Safety: all methods are safe for concurrent use by multiple
// goroutines. The worker pool calls Publish from many goroutines without
// external synchronization.
type Publisher struct {
	// --- CONFIGURATION (set before Start, immutable after) ---

	// Brokers is the list of Kafka broker addresses.
	// Required. Each address must be in "host:port" format.
	Brokers []string

	// Topic is the destination topic all detections are published to.
	// Required.
	Topic string

	// SASL configures SASL authentication.
	// Optional. If nil, no authentication is used.
	SASL sasl.Mechanism

	// TLS configures TLS encryption.
	// Optional. If nil, plaintext connections are used.
	TLS *tls.Config

	// CompressionCodec specifies the producer batch compression algorithm.
	// Valid: "snappy", "gzip", "lz4", "zstd", "none". Default: none.
	CompressionCodec Compression

	// Acks controls broker acknowledgments.
	// Valid: "all", "leader", "none". Default: all ISR replicas.
	Acks Acks

	// Linger sets the producer batching delay.
	// Zero or negative values disable lingering.
	Linger time.Duration

	// MaxBufferedRecords sets the maximum number of records to buffer.
	// Zero or negative values disable this limit.
	MaxBufferedRecords int

	// MaxBufferedBytes sets the maximum bytes of records to buffer.
	// Zero or negative values disable this limit.
	MaxBufferedBytes int

	// RequestTimeout sets the maximum time to wait for broker responses.
	// Zero or negative values mean no timeout.
	RequestTimeout time.Duration

	// CleanupTimeout sets the maximum time to wait for buffered messages
	// to flush on shutdown. Zero or negative values mean no timeout.
	CleanupTimeout time.Duration

	// AllowAutoTopicCreation enables automatic topic creation when publishing
	// to non-existent topics.
	// Default: false (safer for production - prevents typos from creating topics).
	AllowAutoTopicCreation bool

	// MaxAttempts is the total number of publish attempts per detection,
	// including the first. Zero or negative means DefaultMaxAttempts.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry, doubling on each
	// subsequent retry. Zero or negative means DefaultBaseBackoff.
	BaseBackoff time.Duration

	// Logger is the logger instance (same interface as franz-go).
	// Optional. If nil, a no-op logger will be used.
	Logger kgo.Logger

	// InitialDeliveryListeners are event listeners registered when Start() is
	// called. These listeners receive a DeliveryEvent for every terminal
	// outcome. For dynamic listener management after Start(), use
	// AddDeliveryListener().
	// Optional.
	InitialDeliveryListeners []func(*DeliveryEvent)

	// --- INTERNAL FIELDS (not for user configuration) ---

	// logger is the actively used logger instance (never nil after Start).
	logger kgo.Logger

	// clientFactory creates Kafka clients; overridden for mocking in tests.
	clientFactory clientFactory

	// clientMu protects the client field during Start/Stop operations.
	clientMu sync.Mutex

	// client is the Kafka client, initialized in Start() and closed in Stop().
	client kafkaClient

	// deliveryListeners is the event broadcaster for DeliveryEvent notifications.
	deliveryListeners eventor.Eventor[func(*DeliveryEvent)]

	// registerInitialListenersOnce ensures InitialDeliveryListeners are
	// registered exactly once.
	registerInitialListenersOnce sync.Once
}

// AddDeliveryListener adds a listener for terminal delivery outcomes.
//
// Listeners are called from sender goroutines and must be thread-safe.
// The returned function removes the listener.
func (p *Publisher) AddDeliveryListener(fn func(*DeliveryEvent)) func() {
	return p.deliveryListeners.Add(fn)
}

// Start validates configuration, connects to Kafka, and verifies the cluster
// is reachable. Must be called before Publish().
//
// Returns an error if:
//   - Configuration is invalid (missing brokers or topic, bad enum values)
//   - The cluster cannot be reached (fatal startup error: the run must not
//     begin sending)
//   - Already started
func (p *Publisher) Start(ctx context.Context) error {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()

	if p.client != nil {
		return ErrAlreadyStarted
	}

	if p.clientFactory == nil {
		p.clientFactory = defaultClientFactory
	}

	logger := p.Logger
	if logger == nil {
		logger = &nopLogger{}
	}
	p.logger = logger

	// Register initial listeners (only once, even if Start() is called multiple times)
	p.registerInitialListenersOnce.Do(func() {
		for _, listener := range p.InitialDeliveryListeners {
			p.deliveryListeners.Add(listener)
		}
	})

	if err := p.validate(); err != nil {
		return err
	}

	client, err := p.clientFactory(p.toKgoOpts()...)
	if err != nil {
		return fmt.Errorf("failed to create Kafka client: %w", err)
	}

	// An unreachable cluster aborts the run before any sends are attempted.
	pingCtx := ctx
	if p.RequestTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, p.RequestTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return fmt.Errorf("broker unreachable: %w", err)
	}

	p.client = client
	p.logger.Log(kgo.LogLevelInfo, "publisher started", "topic", p.Topic)

	return nil
}

// Stop gracefully shuts down and flushes buffered messages.
// Blocks until messages are sent or timeout occurs.
// Safe to call multiple times (idempotent).
func (p *Publisher) Stop(ctx context.Context) {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()

	if p.client == nil {
		return // Already stopped or never started
	}

	p.logger.Log(kgo.LogLevelInfo, "stopping publisher, flushing buffered messages")

	// Apply CleanupTimeout only if the context doesn't already have a deadline.
	if p.CleanupTimeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.CleanupTimeout)
			defer cancel()
		}
	}

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Log(kgo.LogLevelWarn, "flush incomplete during shutdown", "error", err.Error())
	}

	p.client.Close()
	p.client = nil

	p.logger.Log(kgo.LogLevelInfo, "publisher stopped")
}

// Publish delivers one detection to the destination topic, retrying transient
// failures with exponential backoff.
//
// The detection's payload and record key (its DetectionID) are fixed before
// the first attempt and reused verbatim on every retry, so a duplicate
// delivery after an ambiguous failure is deduplicatable downstream.
//
// Retry policy: up to MaxAttempts total attempts; after a retriable failure
// the sender sleeps BaseBackoff doubled per attempt (100ms, 200ms, 400ms,
// 800ms with the defaults). The backoff sleep is interruptible: once ctx is
// done no new attempt is started and the in-flight attempt's result decides
// the outcome.
//
// Returns the terminal Outcome (Acked or Failed), the number of attempts
// made, and the classified error for Failed outcomes. A DeliveryEvent is
// dispatched for every terminal outcome.
func (p *Publisher) Publish(ctx context.Context, d *Detection) (Outcome, int, error) {
	start := time.Now()

	event := DeliveryEvent{
		DetectionID: d.DetectionID,
		Topic:       p.Topic,
		ClassName:   d.ClassName,
	}

	// Get client reference while holding lock (brief hold)
	p.clientMu.Lock()
	client := p.client
	p.clientMu.Unlock()

	if client == nil {
		return p.fail(&event, start, 0, ErrNotStarted)
	}

	if ctx.Err() != nil {
		return p.fail(&event, start, 0, ctx.Err())
	}

	payload, err := d.Encode()
	if err != nil {
		return p.fail(&event, start, 0, err)
	}

	// Built once; every attempt publishes this exact record.
	record := &kgo.Record{
		Topic: p.Topic,
		Key:   []byte(d.DetectionID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "vehicle_id", Value: []byte(d.VehicleID)},
			{Key: "session_id", Value: []byte(d.SessionID)},
			{Key: "class_name", Value: []byte(d.ClassName)},
		},
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseBackoff := p.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = DefaultBaseBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		results := client.ProduceSync(ctx, record)
		err := results.FirstErr()
		if err == nil {
			event.Outcome = Acked
			event.Attempts = attempt
			event.Duration = time.Since(start)
			p.deliveryListeners.Visit(func(listener func(*DeliveryEvent)) {
				listener(&event)
			})
			return Acked, attempt, nil
		}

		lastErr = err

		if !isRetriable(err) {
			p.logger.Log(kgo.LogLevelError, "permanent delivery failure",
				"detection_id", d.DetectionID, "attempt", attempt, "error", err.Error())
			return p.fail(&event, start, attempt, classify(err))
		}

		if attempt == maxAttempts {
			break
		}

		delay := baseBackoff << (attempt - 1)
		p.logger.Log(kgo.LogLevelWarn, "retrying delivery",
			"detection_id", d.DetectionID, "attempt", attempt, "backoff", delay.String(),
			"error", err.Error())

		// Cancellable sleep: a run deadline or stop signal interrupts the
		// backoff instead of starting another attempt.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.fail(&event, start, attempt, errors.Join(classify(lastErr), ctx.Err()))
		case <-timer.C:
		}
	}

	p.logger.Log(kgo.LogLevelError, "retries exhausted",
		"detection_id", d.DetectionID, "attempts", maxAttempts, "error", lastErr.Error())
	return p.fail(&event, start, maxAttempts, errors.Join(ErrRetriesExhausted, classify(lastErr)))
}

// fail finalizes a Failed outcome and dispatches its DeliveryEvent.
func (p *Publisher) fail(event *DeliveryEvent, start time.Time, attempts int, err error) (Outcome, int, error) {
	event.Outcome = Failed
	event.Attempts = attempts
	event.Error = err
	event.ErrorType = errorType(err)
	event.Duration = time.Since(start)

	p.deliveryListeners.Visit(func(listener func(*DeliveryEvent)) {
		listener(event)
	})

	return Failed, attempts, err
}

// BufferedRecords returns the current and maximum buffer counts and bytes.
// Returns zeros if limits are disabled or client not started.
func (p *Publisher) BufferedRecords() (currentRecords, maxRecords int, currentBytes, maxBytes int64) {
	maxRecords = p.MaxBufferedRecords
	maxBytes = int64(p.MaxBufferedBytes)

	p.clientMu.Lock()
	client := p.client
	p.clientMu.Unlock()

	if client == nil {
		return 0, 0, 0, 0
	}

	currentRecords = int(client.BufferedProduceRecords())
	currentBytes = client.BufferedProduceBytes()

	return currentRecords, maxRecords, currentBytes, maxBytes
}

// validate validates the Publisher's configuration.
// Called during Start() to ensure fail-fast behavior.
func (p *Publisher) validate() error {
	if len(p.Brokers) == 0 {
		return errors.Join(ErrValidation, fmt.Errorf("brokers list is required"))
	}

	for i, broker := range p.Brokers {
		if broker == "" {
			return errors.Join(ErrValidation, fmt.Errorf("broker %d is empty", i))
		}
	}

	if p.Topic == "" {
		return errors.Join(ErrValidation, fmt.Errorf("destination topic is required"))
	}

	if err := validateCompression(p.CompressionCodec); err != nil {
		return err
	}

	return validateAcks(p.Acks)
}

// toKgoOpts converts the Publisher's configuration to franz-go client options.
func (p *Publisher) toKgoOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(p.Brokers...),

		// The explicit retry loop in Publish owns retries; the client must
		// not retry underneath it or attempt counts and backoff lie.
		kgo.RecordRetries(1),
	}

	if p.logger != nil {
		opts = append(opts, kgo.WithLogger(p.logger))
	}

	if p.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}

	if p.SASL != nil {
		opts = append(opts, kgo.SASL(p.SASL))
	}

	if p.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(p.TLS))
	}

	if p.MaxBufferedRecords > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(p.MaxBufferedRecords))
	}

	if p.MaxBufferedBytes > 0 {
		opts = append(opts, kgo.MaxBufferedBytes(p.MaxBufferedBytes))
	}

	if p.RequestTimeout > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(p.RequestTimeout))
		opts = append(opts, kgo.RecordDeliveryTimeout(p.RequestTimeout))
	}

	if p.Linger > 0 {
		opts = append(opts, kgo.ProducerLinger(p.Linger))
	}

	switch p.Acks {
	case AcksAll, "":
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case AcksLeader:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()))
		opts = append(opts, kgo.DisableIdempotentWrite())
	case AcksNone:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()))
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	switch p.CompressionCodec {
	case CompressionSnappy:
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case CompressionGzip:
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case CompressionLz4:
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case CompressionZstd:
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	case CompressionNone, "":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.NoCompression()))
	}

	return opts
}
