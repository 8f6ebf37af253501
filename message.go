// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

package detectkafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Detection is the wire form of a Record: the original detection fields plus
// pipeline-assigned run metadata. It is created exactly once per record when
// a sender dequeues it, and never mutated afterward. Every retry attempt
// publishes the same DetectionID and payload bytes, so consumers can
// deduplicate on DetectionID after an ambiguous failure.
type Detection struct {
	// Pipeline metadata, assigned at enrichment time.
	DetectionID string    `json:"detection_id"`
	VehicleID   string    `json:"vehicle_id"`
	SessionID   string    `json:"session_id"`
	IngestedAt  time.Time `json:"ingested_at"`

	// Frame-level data.
	FrameNumber  int     `json:"frame_number"`
	TimestampSec float64 `json:"timestamp_sec"`

	// Detection coordinates (pixel space).
	PixelU float64 `json:"pixel_u"`
	PixelV float64 `json:"pixel_v"`

	// Detection metadata.
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`

	// GPS data, when the source row carried it.
	VehicleLat *float64 `json:"vehicle_lat,omitempty"`
	VehicleLon *float64 `json:"vehicle_lon,omitempty"`
	Heading    *float64 `json:"heading,omitempty"`
}

// NewDetection enriches a Record with run metadata. The DetectionID is
// generated here, once, before the first publish attempt; it is the
// idempotence key and is never regenerated.
func NewDetection(rec *Record, vehicleID, sessionID string) *Detection {
	return &Detection{
		DetectionID:  uuid.NewString(),
		VehicleID:    vehicleID,
		SessionID:    sessionID,
		IngestedAt:   time.Now().UTC(),
		FrameNumber:  rec.FrameNumber,
		TimestampSec: rec.TimestampSec,
		PixelU:       rec.PixelU,
		PixelV:       rec.PixelV,
		Confidence:   rec.Confidence,
		ClassName:    rec.ClassName,
		VehicleLat:   rec.VehicleLat,
		VehicleLon:   rec.VehicleLon,
		Heading:      rec.Heading,
	}
}

// Encode serializes the detection to its JSON wire form.
func (d *Detection) Encode() ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Join(ErrEncoding, err)
	}
	return payload, nil
}

// DecodeDetection deserializes a JSON wire document into a Detection.
func DecodeDetection(data []byte) (*Detection, error) {
	var d Detection
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Join(ErrEncoding, err)
	}
	return &d, nil
}
