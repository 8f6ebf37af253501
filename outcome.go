// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

// Outcome represents the delivery state of one detection.
//
// Pending and Sent are transient; Acked and Failed are terminal. Once a
// detection reaches a terminal outcome it never transitions again.
type Outcome int

const (
	// Pending indicates the detection has been enriched but not yet handed
	// to the broker client.
	Pending Outcome = iota

	// Sent indicates a publish attempt is in flight and no terminal result
	// has been observed yet.
	Sent

	// Acked indicates the broker confirmed the record (terminal).
	Acked

	// Failed indicates retries were exhausted or a permanent error occurred
	// (terminal).
	Failed
)

// String returns the string representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "Pending"
	case Sent:
		return "Sent"
	case Acked:
		return "Acked"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the outcome admits no further transitions.
func (o Outcome) Terminal() bool {
	return o == Acked || o == Failed
}
