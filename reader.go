// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ReadStats reports what the reader consumed: total data rows read and how
// many of those were rejected as invalid. Read includes rejected rows; the
// header row is counted in neither.
type ReadStats struct {
	Read     int64
	Rejected int64
}

// Valid returns the number of rows that produced a Record.
func (s ReadStats) Valid() int64 {
	return s.Read - s.Rejected
}

// CSVReader streams detection records from a perception CSV file. It holds at
// most one row in memory at a time; downstream memory is bounded by the
// dispatch queue it feeds.
type CSVReader struct {
	path   string
	logger kgo.Logger

	// Tracker, when set, receives per-row read/reject counts as rows are
	// consumed so mid-run snapshots reflect reader progress. Optional.
	Tracker *Tracker
}

// NewCSVReader creates a reader for the given file path. A nil logger
// disables row-level logging.
func NewCSVReader(path string, logger kgo.Logger) *CSVReader {
	if logger == nil {
		logger = &nopLogger{}
	}
	return &CSVReader{path: path, logger: logger}
}

// Stream reads the file incrementally and sends each valid Record to out in
// source order. The send blocks when the channel is full, which is the
// pipeline's backpressure: the reader stalls until a sender drains a slot.
//
// Invalid rows are rejected, counted, and logged; they never abort the
// stream. An unreadable file is a fatal startup error. Stream returns when
// the input is exhausted or ctx is done, and always returns the stats for
// whatever it consumed. The caller owns closing out.
func (r *CSVReader) Stream(ctx context.Context, out chan<- *Record) (ReadStats, error) {
	var stats ReadStats

	file, err := os.Open(r.path)
	if err != nil {
		return stats, fmt.Errorf("failed to open input %s: %w", r.path, err)
	}
	defer file.Close()

	cr := csv.NewReader(file)
	// Rows have 6 required columns plus up to 3 optional ones; the parser
	// does its own field-count validation.
	cr.FieldsPerRecord = -1

	first := true
	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.trackRow(&stats, true)
			r.logger.Log(kgo.LogLevelWarn, "rejected unreadable row", "error", err.Error())
			continue
		}

		if first {
			first = false
			if isHeaderRow(row) {
				continue
			}
		}

		rec, err := ParseRow(row)
		if err != nil {
			r.trackRow(&stats, true)
			r.logger.Log(kgo.LogLevelWarn, "rejected invalid row",
				"row", stats.Read, "error", err.Error())
			continue
		}
		r.trackRow(&stats, false)

		select {
		case out <- rec:
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}

	r.logger.Log(kgo.LogLevelInfo, "input exhausted",
		"rows_read", stats.Read, "rows_rejected", stats.Rejected)
	return stats, nil
}

// ReadAll reads the entire file before returning, for batch mode. Row-level
// validation and rejection counting match Stream.
func (r *CSVReader) ReadAll(ctx context.Context) ([]*Record, ReadStats, error) {
	var stats ReadStats

	file, err := os.Open(r.path)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to open input %s: %w", r.path, err)
	}
	defer file.Close()

	cr := csv.NewReader(file)
	cr.FieldsPerRecord = -1

	var records []*Record
	first := true
	for {
		if ctx.Err() != nil {
			return records, stats, ctx.Err()
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.trackRow(&stats, true)
			r.logger.Log(kgo.LogLevelWarn, "rejected unreadable row", "error", err.Error())
			continue
		}

		if first {
			first = false
			if isHeaderRow(row) {
				continue
			}
		}

		rec, err := ParseRow(row)
		if err != nil {
			r.trackRow(&stats, true)
			r.logger.Log(kgo.LogLevelWarn, "rejected invalid row",
				"row", stats.Read, "error", err.Error())
			continue
		}
		r.trackRow(&stats, false)

		records = append(records, rec)
	}

	r.logger.Log(kgo.LogLevelInfo, "input loaded",
		"rows_read", stats.Read, "rows_rejected", stats.Rejected)
	return records, stats, nil
}

// trackRow folds one consumed row into the local stats and the shared
// tracker, if any.
func (r *CSVReader) trackRow(stats *ReadStats, rejected bool) {
	stats.Read++
	if r.Tracker != nil {
		r.Tracker.RecordRead()
	}
	if rejected {
		stats.Rejected++
		if r.Tracker != nil {
			r.Tracker.RecordRejected()
		}
	}
}
