// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Record is one parsed detection event from the perception CSV, before
// enrichment. Records are immutable once constructed and each record is
// consumed by exactly one sender.
type Record struct {
	// FrameNumber is the video frame index the detection came from.
	FrameNumber int

	// TimestampSec is the offset into the source video, in seconds.
	TimestampSec float64

	// PixelU and PixelV locate the detection in pixel space: the horizontal
	// center and bottom edge of the bounding box.
	PixelU float64
	PixelV float64

	// Confidence is the model confidence in [0, 1].
	Confidence float64

	// ClassName is one of the known detection classes.
	ClassName string

	// VehicleLat and VehicleLon are the vehicle's GPS position at capture
	// time. Either both are set or both are nil.
	VehicleLat *float64
	VehicleLon *float64

	// Heading is the vehicle's compass heading in degrees [0, 360), if known.
	Heading *float64
}

// knownClasses is the closed set of detection classes the perception model
// emits. Rows with any other class are rejected.
var knownClasses = map[string]struct{}{
	"stop sign":     {},
	"traffic light": {},
}

// Expected CSV column layout. The first six columns are required; the GPS
// columns are optional but latitude and longitude come as a pair.
const (
	colFrameNumber = iota
	colTimestampSec
	colPixelU
	colPixelV
	colConfidence
	colClassName
	colVehicleLat
	colVehicleLon
	colHeading

	minColumns = colClassName + 1
	maxColumns = colHeading + 1
)

// ParseRow constructs a Record from one CSV row in the fixed column order
// frame_number, timestamp_sec, u, v, confidence, class_name and optionally
// vehicle_lat, vehicle_lon, heading.
//
// Any structural problem (wrong field count, unparseable number, unknown
// class, out-of-range value, GPS on only one axis) returns an error joined
// with ErrRowInvalid; callers skip and count such rows without aborting the
// stream.
func ParseRow(row []string) (*Record, error) {
	if len(row) < minColumns || len(row) > maxColumns {
		return nil, rowErrorf("expected %d-%d fields, got %d", minColumns, maxColumns, len(row))
	}

	frame, err := strconv.Atoi(strings.TrimSpace(row[colFrameNumber]))
	if err != nil {
		return nil, rowErrorf("invalid frame_number %q", row[colFrameNumber])
	}
	if frame < 0 {
		return nil, rowErrorf("frame_number %d is negative", frame)
	}

	ts, err := strconv.ParseFloat(strings.TrimSpace(row[colTimestampSec]), 64)
	if err != nil {
		return nil, rowErrorf("invalid timestamp_sec %q", row[colTimestampSec])
	}
	if ts < 0 {
		return nil, rowErrorf("timestamp_sec %g is negative", ts)
	}

	u, err := strconv.ParseFloat(strings.TrimSpace(row[colPixelU]), 64)
	if err != nil {
		return nil, rowErrorf("invalid u %q", row[colPixelU])
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(row[colPixelV]), 64)
	if err != nil {
		return nil, rowErrorf("invalid v %q", row[colPixelV])
	}

	conf, err := strconv.ParseFloat(strings.TrimSpace(row[colConfidence]), 64)
	if err != nil {
		return nil, rowErrorf("invalid confidence %q", row[colConfidence])
	}
	if conf < 0 || conf > 1 {
		return nil, rowErrorf("confidence %g outside [0, 1]", conf)
	}

	class := strings.TrimSpace(row[colClassName])
	if _, ok := knownClasses[class]; !ok {
		return nil, rowErrorf("unknown class_name %q", class)
	}

	rec := &Record{
		FrameNumber:  frame,
		TimestampSec: ts,
		PixelU:       u,
		PixelV:       v,
		Confidence:   conf,
		ClassName:    class,
	}

	lat, haveLat, err := optionalFloat(row, colVehicleLat, "vehicle_lat")
	if err != nil {
		return nil, err
	}
	lon, haveLon, err := optionalFloat(row, colVehicleLon, "vehicle_lon")
	if err != nil {
		return nil, err
	}

	// Latitude and longitude come as a pair or not at all.
	if haveLat != haveLon {
		return nil, rowErrorf("vehicle_lat and vehicle_lon must both be present or both absent")
	}
	if haveLat {
		if lat < -90 || lat > 90 {
			return nil, rowErrorf("vehicle_lat %g outside [-90, 90]", lat)
		}
		if lon < -180 || lon > 180 {
			return nil, rowErrorf("vehicle_lon %g outside [-180, 180]", lon)
		}
		rec.VehicleLat = &lat
		rec.VehicleLon = &lon
	}

	heading, haveHeading, err := optionalFloat(row, colHeading, "heading")
	if err != nil {
		return nil, err
	}
	if haveHeading {
		if heading < 0 || heading >= 360 {
			return nil, rowErrorf("heading %g outside [0, 360)", heading)
		}
		rec.Heading = &heading
	}

	return rec, nil
}

// optionalFloat parses an optional trailing column. A missing column or an
// empty cell is "absent", not an error.
func optionalFloat(row []string, idx int, name string) (float64, bool, error) {
	if idx >= len(row) {
		return 0, false, nil
	}
	s := strings.TrimSpace(row[idx])
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, rowErrorf("invalid %s %q", name, row[idx])
	}
	return f, true, nil
}

// isHeaderRow reports whether a row is the CSV header. The data columns are
// all numeric-first, so a non-numeric frame_number cell marks the header.
func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(row[0]))
	return err != nil
}

func rowErrorf(format string, args ...any) error {
	return errors.Join(ErrRowInvalid, fmt.Errorf(format, args...))
}
