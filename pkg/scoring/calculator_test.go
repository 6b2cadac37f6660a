package scoring

import (
	"testing"
	"time"

	"resonance-engine/pkg/calibration"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCurveFixedPoint(t *testing.T) {
	assert.InDelta(t, 0.5, Curve(0.5), 1e-9)
}

func TestCurveMonotonic(t *testing.T) {
	prev := Curve(0)
	for x := 0.05; x <= 1.0; x += 0.05 {
		cur := Curve(x)
		assert.Greater(t, cur, prev, "curve must be strictly increasing at %f", x)
		prev = cur
	}

	assert.Less(t, Curve(0), 0.1)
	assert.Greater(t, Curve(1), 0.9)
	assert.Less(t, Curve(1), 1.0)
}

func TestRealtimeScoreNeedsSamples(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	for i := 0; i < 4; i++ {
		c.AddRMSSample(0.2)
	}
	assert.Equal(t, 0.0, c.RealtimeScore())

	c.AddRMSSample(0.2)
	assert.Greater(t, c.RealtimeScore(), 0.0)
}

func TestFinalScoreNeedsSamples(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	for i := 0; i < 9; i++ {
		c.AddRMSSample(0.2)
	}
	assert.Nil(t, c.FinalScore("standard"))

	c.AddRMSSample(0.2)
	rec := c.FinalScore("standard")
	require.NotNil(t, rec)
	assert.Equal(t, "standard", rec.Mode)
	assert.NotEmpty(t, rec.ID)
	assert.Greater(t, rec.Score, 0.0)
}

func TestVocalEnergyAtTarget(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(&calibration.Data{BaselineRMS: 0.1, CalibratedAt: time.Now()})

	// Mean RMS of 0.15 equals 1.5x the 0.1 baseline, so the raw energy is
	// exactly 1.0 before the curve
	for i := 0; i < 10; i++ {
		c.AddRMSSample(0.15)
	}

	assert.InDelta(t, Curve(1.0), c.vocalEnergy(), 1e-9)
}

func TestVocalEnergyDefaultBaseline(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	// Default baseline 0.15 makes the target 0.225
	for i := 0; i < 10; i++ {
		c.AddRMSSample(0.225)
	}

	assert.InDelta(t, Curve(1.0), c.vocalEnergy(), 1e-9)
}

func TestPitchStabilityNeutralWithFewSamples(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	c.AddPitchSample(180)
	c.AddPitchSample(185)

	assert.Equal(t, 0.7, c.pitchStability())
}

func TestPitchStabilityIgnoresUnvoiced(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	for i := 0; i < 10; i++ {
		c.AddPitchSample(0)
	}

	// All unvoiced samples are discarded, so stability stays neutral
	assert.Equal(t, 0.7, c.pitchStability())
}

func TestPitchStabilityFavorsModerateVariation(t *testing.T) {
	c := NewCalculator(testLogger())

	// Perfectly flat pitch: CV 0 deviates from the 0.15 target
	c.StartSession(nil)
	for i := 0; i < 20; i++ {
		c.AddSample(0.2, 180)
	}
	flat := c.pitchStability()

	// Moderate variation near the target CV
	c.StartSession(nil)
	for i := 0; i < 20; i++ {
		pitch := 180.0
		if i%2 == 0 {
			pitch = 180 * (1 + targetPitchCV)
		} else {
			pitch = 180 * (1 - targetPitchCV)
		}
		c.AddSample(0.2, pitch)
	}
	moderate := c.pitchStability()

	assert.Greater(t, moderate, flat)
}

func TestFinalScoreWeights(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(&calibration.Data{BaselineRMS: 0.1})

	for i := 0; i < 20; i++ {
		c.AddRMSSample(0.15)
	}
	c.SetTextAccuracy(1.0)

	rec := c.FinalScore("calibrated")
	require.NotNil(t, rec)

	expected := 0.60*rec.VocalEnergy + 0.30*rec.PitchStability + 0.10*rec.TextAccuracy
	assert.InDelta(t, expected, rec.Score, 1e-9)
	assert.InDelta(t, Curve(1.0), rec.VocalEnergy, 1e-9)
	assert.Equal(t, 0.7, rec.PitchStability)
	assert.Equal(t, 1.0, rec.TextAccuracy)
}

func TestSetTextAccuracyClamped(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	c.SetTextAccuracy(1.7)
	for i := 0; i < 10; i++ {
		c.AddRMSSample(0.2)
	}
	rec := c.FinalScore("standard")
	require.NotNil(t, rec)
	assert.Equal(t, 1.0, rec.TextAccuracy)

	c.StartSession(nil)
	c.SetTextAccuracy(-0.3)
	for i := 0; i < 10; i++ {
		c.AddRMSSample(0.2)
	}
	rec = c.FinalScore("standard")
	require.NotNil(t, rec)
	assert.Equal(t, 0.0, rec.TextAccuracy)
}

func TestStartSessionResets(t *testing.T) {
	c := NewCalculator(testLogger())
	c.StartSession(nil)

	for i := 0; i < 10; i++ {
		c.AddSample(0.2, 180)
	}
	c.SetTextAccuracy(0.9)
	require.NotNil(t, c.FinalScore("standard"))

	c.StartSession(nil)
	assert.Equal(t, 0, c.SampleCount())
	assert.Nil(t, c.FinalScore("standard"))
}
