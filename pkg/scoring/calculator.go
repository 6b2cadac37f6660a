// Package scoring accumulates per-utterance samples and turns them into
// resonance scores: a composite of vocal energy, pitch stability, and text
// accuracy.
package scoring

import (
	"math"
	"sync"
	"time"

	"resonance-engine/pkg/calibration"
	"resonance-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

const (
	// Minimum accumulated RMS samples before a score is meaningful
	minRealtimeSamples = 5
	minFinalSamples    = 10

	// Minimum voiced pitch samples before stability is measured rather
	// than defaulted
	minPitchSamples = 5

	// Realtime score weights (text accuracy is not final yet)
	realtimeEnergyWeight    = 0.65
	realtimeStabilityWeight = 0.35

	// Final score weights, summing to 1.0
	finalEnergyWeight    = 0.60
	finalStabilityWeight = 0.30
	finalTextWeight      = 0.10

	// Vocal energy reference points
	defaultBaselineRMS = 0.15
	energyTargetFactor = 1.5

	// Pitch stability reference points: a coefficient of variation around
	// 0.15 is typical expressive speech, 0.4 is the acceptance limit
	targetPitchCV = 0.15
	maxPitchCV    = 0.4
	neutralPitch  = 0.7
)

// Calculator accumulates a session's samples and computes scores. Safe for
// concurrent use: the capture path appends samples while the reporting path
// reads, all under one lock.
type Calculator struct {
	logger *logrus.Logger

	mu           sync.Mutex
	rmsSamples   []float64
	pitchSamples []float64
	textAccuracy float64
	baseline     *calibration.Data
	startedAt    time.Time
}

// NewCalculator creates a calculator
func NewCalculator(logger *logrus.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// StartSession clears all accumulators and records the session start.
// The calibration baseline is optional.
func (c *Calculator) StartSession(baseline *calibration.Data) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rmsSamples = nil
	c.pitchSamples = nil
	c.textAccuracy = 0
	c.baseline = baseline
	c.startedAt = time.Now()
}

// AddRMSSample appends one RMS measurement
func (c *Calculator) AddRMSSample(rms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rmsSamples = append(c.rmsSamples, rms)
}

// AddPitchSample appends one pitch measurement; unvoiced estimates (0) are
// discarded
func (c *Calculator) AddPitchSample(pitch float64) {
	if pitch <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pitchSamples = append(c.pitchSamples, pitch)
}

// AddSample appends both measurements from one buffer
func (c *Calculator) AddSample(rms, pitch float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rmsSamples = append(c.rmsSamples, rms)
	if pitch > 0 {
		c.pitchSamples = append(c.pitchSamples, pitch)
	}
}

// SetTextAccuracy records the current text accuracy estimate, clamped to [0,1]
func (c *Calculator) SetTextAccuracy(score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textAccuracy = clamp01(score)
}

// TextAccuracy returns the current text accuracy estimate
func (c *Calculator) TextAccuracy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textAccuracy
}

// SampleCount returns the number of accumulated RMS samples
func (c *Calculator) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rmsSamples)
}

// RealtimeScore computes the running score from energy and stability alone.
// Returns 0 until enough samples have accumulated.
func (c *Calculator) RealtimeScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rmsSamples) < minRealtimeSamples {
		return 0
	}

	score := realtimeEnergyWeight*c.vocalEnergyLocked() +
		realtimeStabilityWeight*c.pitchStabilityLocked()

	metrics.IncCounterVec(metrics.ScoresComputed, "realtime", "")
	return score
}

// FinalScore computes the composite record for the session. Returns nil when
// too few samples were collected; short utterances are an expected outcome,
// not an error.
func (c *Calculator) FinalScore(mode string) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rmsSamples) < minFinalSamples {
		c.logger.WithFields(logrus.Fields{
			"samples":  len(c.rmsSamples),
			"required": minFinalSamples,
		}).Debug("Not enough samples for a final score")
		metrics.IncCounter(metrics.InsufficientSamples)
		return nil
	}

	energy := c.vocalEnergyLocked()
	stability := c.pitchStabilityLocked()
	text := c.textAccuracy

	score := finalEnergyWeight*energy +
		finalStabilityWeight*stability +
		finalTextWeight*text

	duration := time.Since(c.startedAt)

	metrics.IncCounterVec(metrics.ScoresComputed, "final", mode)
	metrics.ObserveHistogram(metrics.FinalScoreValue, score)

	c.logger.WithFields(logrus.Fields{
		"score":           score,
		"vocal_energy":    energy,
		"pitch_stability": stability,
		"text_accuracy":   text,
		"mode":            mode,
		"duration":        duration,
	}).Info("Computed final resonance score")

	return newRecord(mode, score, text, energy, stability, duration)
}

// vocalEnergy and pitchStability expose the component scores on their own,
// mainly for inspection and tests
func (c *Calculator) vocalEnergy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vocalEnergyLocked()
}

func (c *Calculator) pitchStability() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pitchStabilityLocked()
}

// vocalEnergyLocked scores mean RMS against the calibrated (or default)
// baseline. Callers hold c.mu.
func (c *Calculator) vocalEnergyLocked() float64 {
	meanRMS := stat.Mean(c.rmsSamples, nil)

	baseline := defaultBaselineRMS
	if c.baseline != nil && c.baseline.BaselineRMS > 0 {
		baseline = c.baseline.BaselineRMS
	}

	target := baseline * energyTargetFactor
	raw := math.Min(1.0, meanRMS/target)

	return Curve(raw)
}

// pitchStabilityLocked scores the consistency of voiced pitch. With too few
// voiced samples it returns a neutral value instead of penalizing quiet or
// monotone speakers. Callers hold c.mu.
func (c *Calculator) pitchStabilityLocked() float64 {
	if len(c.pitchSamples) < minPitchSamples {
		return neutralPitch
	}

	mean := stat.Mean(c.pitchSamples, nil)
	if mean <= 0 {
		return neutralPitch
	}

	stdDev := stat.PopStdDev(c.pitchSamples, nil)
	cv := stdDev / mean

	deviation := math.Abs(cv-targetPitchCV) / (maxPitchCV - targetPitchCV)
	if deviation > 1 {
		deviation = 1
	}

	return Curve(1 - deviation)
}

// Curve is the shared scoring S-curve. It compresses raw values so mid-range
// inputs land generously high while only near-perfect input reaches the top.
// Fixed point: Curve(0.5) == 0.5.
func Curve(raw float64) float64 {
	x := raw*2 - 1
	return (math.Tanh(1.5*x) + 1) / 2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
