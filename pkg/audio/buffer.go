package audio

import (
	"time"

	"resonance-engine/pkg/dsp"
)

// SpeechThresholdDB is the default decibel floor above which a buffer is
// considered to contain speech.
const SpeechThresholdDB = -40.0

// AnalyzedBuffer is one capture tick: a block of mono samples with its
// level measurements. Buffers are immutable once published.
type AnalyzedBuffer struct {
	// Samples are signed floats in [-1, 1]
	Samples []float64

	// SampleRate is the capture sample rate in Hz
	SampleRate int

	// FrameCount is the number of frames (samples, for mono) in the block
	FrameCount int

	// Timestamp is the stream position of the first sample, derived from a
	// monotonically increasing sample counter rather than the wall clock
	Timestamp time.Duration

	// RMS is the root-mean-square amplitude of the block
	RMS float64

	// Peak is the maximum absolute amplitude of the block
	Peak float64

	// SpeechFloorDB is the decibel floor used by ContainsSpeech, stamped
	// from the capture configuration
	SpeechFloorDB float64
}

// NewAnalyzedBuffer measures the block and stamps it with the stream position.
func NewAnalyzedBuffer(samples []float64, sampleRate int, timestamp time.Duration) *AnalyzedBuffer {
	return &AnalyzedBuffer{
		Samples:       samples,
		SampleRate:    sampleRate,
		FrameCount:    len(samples),
		Timestamp:     timestamp,
		RMS:           dsp.RMS(samples),
		Peak:          dsp.Peak(samples),
		SpeechFloorDB: SpeechThresholdDB,
	}
}

// Duration returns the play time of the block
func (b *AnalyzedBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.FrameCount) * time.Second / time.Duration(b.SampleRate)
}

// Decibels returns the block's RMS level in dBFS
func (b *AnalyzedBuffer) Decibels() float64 {
	return dsp.Decibels(b.RMS)
}

// ContainsSpeech reports whether the block's level is above the speech floor
func (b *AnalyzedBuffer) ContainsSpeech() bool {
	return b.Decibels() > b.SpeechFloorDB
}
