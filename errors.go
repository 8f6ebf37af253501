// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"context"
	"errors"
	"net"

	"github.com/twmb/franz-go/pkg/kerr"
)

var (
	// ErrRowInvalid indicates a CSV row failed structural validation and was skipped.
	ErrRowInvalid = &metricError{
		metric:  "row_invalid",
		message: "invalid input row",
	}

	// ErrEncoding indicates JSON encoding of a detection failed.
	ErrEncoding = &metricError{
		metric:  "encoding_error",
		message: "encoding failed",
	}

	// ErrBroker indicates the Kafka broker rejected the record.
	ErrBroker = &metricError{
		metric:  "broker_error",
		message: "broker error",
	}

	// ErrTimeout indicates a publish attempt timed out.
	ErrTimeout = &metricError{
		metric:  "timeout",
		message: "timeout",
	}

	// ErrThrottled indicates the broker is throttling the producer.
	ErrThrottled = &metricError{
		metric:  "throttled",
		message: "throttled by broker",
	}

	// ErrUnauthorized indicates an authentication or authorization failure.
	ErrUnauthorized = &metricError{
		metric:  "unauthorized",
		message: "not authorized",
	}

	// ErrUnknownDestination indicates the destination topic does not exist.
	ErrUnknownDestination = &metricError{
		metric:  "unknown_destination",
		message: "unknown destination topic",
	}

	// ErrRetriesExhausted indicates all publish attempts failed.
	ErrRetriesExhausted = &metricError{
		metric:  "retries_exhausted",
		message: "retries exhausted",
	}

	// ErrValidation indicates configuration validation failed.
	ErrValidation = &metricError{
		metric:  "validation_error",
		message: "validation error",
	}

	// ErrNotStarted indicates the publisher has not been started.
	ErrNotStarted = &metricError{
		metric:  "not_started",
		message: "publisher not started",
	}

	// ErrAlreadyStarted indicates the publisher has already been started.
	ErrAlreadyStarted = &metricError{
		metric:  "already_started",
		message: "publisher already started",
	}
)

// metricError is an internal error type that wraps errors with a type
// classification for metrics and observability. The metric field provides a
// string label for grouping errors in metrics systems and delivery events.
type metricError struct {
	metric  string // Type classification for metrics (e.g., "timeout", "broker_error")
	message string // Human-readable message
}

// Error implements the error interface.
func (e *metricError) Error() string {
	return e.message
}

func (e *metricError) Metric() string {
	return e.metric
}

func (e *metricError) Is(target error) bool {
	if t, ok := target.(*metricError); ok {
		return e.message == t.message
	}
	return false
}

// errorType extracts the error type string for metrics classification.
// Walks the error chain to find metricError types.
func errorType(err error) string {
	if err == nil {
		return ""
	}

	var me *metricError
	if errors.As(err, &me) {
		return me.Metric()
	}

	return "unknown"
}

// permanentKafkaErrors are broker error codes that never succeed on retry for
// this producer: the record itself or the caller's credentials/topic are the
// problem, not the broker's availability. UnknownTopicOrPartition is treated
// as permanent because auto topic creation is an explicit opt-in.
var permanentKafkaErrors = map[int16]struct{}{
	kerr.UnknownTopicOrPartition.Code:    {},
	kerr.TopicAuthorizationFailed.Code:   {},
	kerr.ClusterAuthorizationFailed.Code: {},
	kerr.SaslAuthenticationFailed.Code:   {},
	kerr.InvalidRecord.Code:              {},
	kerr.CorruptMessage.Code:             {},
	kerr.MessageTooLarge.Code:            {},
	kerr.InvalidTopicException.Code:      {},
}

// isRetriable reports whether a failed publish attempt may be retried.
//
// Classification:
//   - context cancellation or deadline: never retried (the run is ending)
//   - known-permanent broker codes (auth, unknown topic, rejected record): no
//   - broker codes the Kafka protocol marks retriable (throttling, leader
//     elections, broker temporarily unavailable): yes
//   - network timeouts: yes (the ambiguous case; the stable detection_id
//     lets consumers deduplicate a possible double delivery)
//   - anything else: yes, at-least-once delivery errs toward retrying
func isRetriable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		if _, permanent := permanentKafkaErrors[ke.Code]; permanent {
			return false
		}
		return ke.Retriable
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return true
}

// classify maps a publish error onto the pipeline's error taxonomy so
// delivery events and logs carry a stable cause label.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke.Code {
		case kerr.UnknownTopicOrPartition.Code, kerr.InvalidTopicException.Code:
			return errors.Join(ErrUnknownDestination, err)
		case kerr.TopicAuthorizationFailed.Code, kerr.ClusterAuthorizationFailed.Code,
			kerr.SaslAuthenticationFailed.Code:
			return errors.Join(ErrUnauthorized, err)
		case kerr.ThrottlingQuotaExceeded.Code:
			return errors.Join(ErrThrottled, err)
		}
		return errors.Join(ErrBroker, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Join(ErrTimeout, err)
	}

	return err
}
