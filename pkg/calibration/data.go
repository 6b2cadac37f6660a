// Package calibration measures a speaker's personal voice baseline so that
// later scoring compares the speaker to themselves instead of a fixed norm.
package calibration

import "time"

// Data holds a speaker's calibrated baseline
type Data struct {
	// BaselineRMS is the speaker's typical speaking level
	BaselineRMS float64 `json:"baseline_rms"`

	// PitchMin and PitchMax bound the speaker's comfortable pitch range in Hz
	PitchMin float64 `json:"pitch_min"`
	PitchMax float64 `json:"pitch_max"`

	// VolumeMin and VolumeMax bound the observed level range in dBFS
	VolumeMin float64 `json:"volume_min"`
	VolumeMax float64 `json:"volume_max"`

	CalibratedAt time.Time `json:"calibrated_at"`
}

// DefaultData returns the baseline used when a speaker has never calibrated
func DefaultData() *Data {
	return &Data{
		BaselineRMS:  0.15,
		PitchMin:     100,
		PitchMax:     300,
		VolumeMin:    -40,
		VolumeMax:    -10,
		CalibratedAt: time.Time{},
	}
}
