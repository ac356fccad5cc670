package geo

import (
	"errors"
	"math"
	"time"
)

// Fix is a single GPS reading from a driver client.
type Fix struct {
	Position       LatLng
	AccuracyMeters *float64
	SpeedKMH       *float64
	HeadingDegrees *float64
	RecordedAt     time.Time
}

var (
	ErrInvalidCoordinates = errors.New("coordinates cannot be zero")
	ErrNegativeAccuracy   = errors.New("accuracy_meters cannot be negative")
	ErrNegativeSpeed      = errors.New("speed_kmh cannot be negative")
	ErrInvalidHeading     = errors.New("heading_degrees must be between 0 and 360")
	ErrZeroRecordedAt     = errors.New("recorded_at must be a valid timestamp")
)

// NewFix builds a validated Fix. Only the position is strictly required;
// accuracy, speed and heading are optional metrics. A zero recordedAt is
// stamped with the current time.
func NewFix(position LatLng, accuracyMeters, speedKMH, headingDegrees *float64, recordedAt time.Time) (Fix, error) {
	fix := Fix{
		Position:       position,
		AccuracyMeters: accuracyMeters,
		SpeedKMH:       speedKMH,
		HeadingDegrees: headingDegrees,
		RecordedAt:     recordedAt,
	}
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = time.Now().UTC()
	}
	if err := fix.Validate(); err != nil {
		return Fix{}, err
	}
	return fix, nil
}

// Validate checks invariants of the Fix.
func (fix Fix) Validate() error {
	if fix.Position.Lat == 0 && fix.Position.Lng == 0 {
		return ErrInvalidCoordinates
	}
	if err := fix.Position.Validate(); err != nil {
		return err
	}

	if fix.AccuracyMeters != nil {
		if *fix.AccuracyMeters < 0 || math.IsNaN(*fix.AccuracyMeters) {
			return ErrNegativeAccuracy
		}
	}
	if fix.SpeedKMH != nil {
		if *fix.SpeedKMH < 0 || math.IsNaN(*fix.SpeedKMH) {
			return ErrNegativeSpeed
		}
	}
	if fix.HeadingDegrees != nil {
		// allow exactly 0 and 360 (some SDKs report 360.0 instead of 0.0)
		if *fix.HeadingDegrees < 0 || *fix.HeadingDegrees > 360 || math.IsNaN(*fix.HeadingDegrees) {
			return ErrInvalidHeading
		}
	}

	if fix.RecordedAt.IsZero() {
		return ErrZeroRecordedAt
	}
	return nil
}
