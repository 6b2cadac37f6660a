package calibration

import (
	"context"
	"math"
	"testing"
	"time"

	"resonance-engine/pkg/audio"
	"resonance-engine/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeCapture feeds a canned buffer stream so runs are deterministic
type fakeCapture struct {
	buffers  chan *audio.AnalyzedBuffer
	startErr error
	started  bool
	stopped  bool
}

func newFakeCapture(capacity int) *fakeCapture {
	return &fakeCapture{buffers: make(chan *audio.AnalyzedBuffer, capacity)}
}

func (f *fakeCapture) StartCapture(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeCapture) StopCapture() {
	f.stopped = true
}

func (f *fakeCapture) Buffers() <-chan *audio.AnalyzedBuffer {
	return f.buffers
}

func (f *fakeCapture) SampleRate() int {
	return 44100
}

// sineBuffer builds one analyzed block of the given tone
func sineBuffer(freq, amplitude float64, sampleRate, frames int, timestamp time.Duration) *audio.AnalyzedBuffer {
	samples := make([]float64, frames)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return audio.NewAnalyzedBuffer(samples, sampleRate, timestamp)
}

// feedSpeech preloads enough voiced buffers to cover every phrase window
func feedSpeech(f *fakeCapture, count int) {
	step := 100 * time.Millisecond
	for i := 0; i < count; i++ {
		f.buffers <- sineBuffer(180, 0.3, 44100, 2048, time.Duration(i)*step)
	}
}

func TestCalibrationStats(t *testing.T) {
	assert.Equal(t, 0.2, Median([]float64{0.3, 0.1, 0.2}))
	assert.Equal(t, 0.0, Median(nil))

	values := make([]float64, 0, 100)
	for i := 1; i <= 100; i++ {
		values = append(values, float64(i))
	}
	assert.Equal(t, 51.0, Median(values))
	assert.Equal(t, 11.0, Percentile10(values))
	assert.Equal(t, 91.0, Percentile90(values))

	// Index clamps to the last element for tiny inputs
	assert.Equal(t, 5.0, Percentile90([]float64{5}))
}

func TestPerformCalibrationRejectsEmptyPhrases(t *testing.T) {
	svc := NewService(testLogger(), newFakeCapture(1))

	data, err := svc.PerformCalibration(context.Background(), nil)
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestPerformCalibrationDerivesBaseline(t *testing.T) {
	capture := newFakeCapture(256)
	// "take a breath" needs 1s + 3*0.4s, plus the settle skip; 100ms steps
	feedSpeech(capture, 40)

	svc := NewService(testLogger(), capture)
	data, err := svc.PerformCalibration(context.Background(), []string{"take a breath"})
	require.NoError(t, err)
	require.NotNil(t, data)

	// A 0.3-amplitude sine has RMS near 0.212
	assert.InDelta(t, 0.3/math.Sqrt2, data.BaselineRMS, 0.01)
	assert.InDelta(t, 180, data.PitchMin, 5)
	assert.InDelta(t, 180, data.PitchMax, 5)
	assert.False(t, data.CalibratedAt.IsZero())
	assert.True(t, capture.stopped)
	assert.Equal(t, StateComplete, svc.State())
}

func TestPerformCalibrationDefaultsWithoutSpeech(t *testing.T) {
	capture := newFakeCapture(256)
	// Near-silent buffers stay below the speech floor and are all skipped
	step := 100 * time.Millisecond
	for i := 0; i < 40; i++ {
		capture.buffers <- sineBuffer(180, 0.0001, 44100, 2048, time.Duration(i)*step)
	}

	svc := NewService(testLogger(), capture)
	data, err := svc.PerformCalibration(context.Background(), []string{"take a breath"})
	require.NoError(t, err)
	require.NotNil(t, data)

	defaults := DefaultData()
	assert.Equal(t, defaults.BaselineRMS, data.BaselineRMS)
	assert.Equal(t, defaults.PitchMin, data.PitchMin)
	assert.Equal(t, defaults.PitchMax, data.PitchMax)
}

func TestPerformCalibrationProgressSequence(t *testing.T) {
	capture := newFakeCapture(256)
	feedSpeech(capture, 80)

	svc := NewService(testLogger(), capture)
	_, err := svc.PerformCalibration(context.Background(), []string{"take a breath", "hold it gently"})
	require.NoError(t, err)

	var events []Progress
	for {
		select {
		case p := <-svc.Events():
			events = append(events, p)
			continue
		default:
		}
		break
	}
	require.Len(t, events, 4)

	assert.Equal(t, StateRecording, events[0].State)
	assert.Equal(t, 0, events[0].PhraseIndex)
	assert.Equal(t, "take a breath", events[0].Phrase)
	assert.Equal(t, 0.0, events[0].Progress)

	assert.Equal(t, StateRecording, events[1].State)
	assert.Equal(t, 1, events[1].PhraseIndex)
	assert.Equal(t, "hold it gently", events[1].Phrase)
	assert.Equal(t, 0.5, events[1].Progress)

	assert.Equal(t, StateProcessing, events[2].State)
	assert.Equal(t, 1.0, events[2].Progress)

	assert.Equal(t, StateComplete, events[3].State)
	assert.Equal(t, 1.0, events[3].Progress)
}

func TestPerformCalibrationCancel(t *testing.T) {
	capture := newFakeCapture(256)
	// Too few buffers to finish the window, so the run blocks until cancel
	feedSpeech(capture, 3)

	svc := NewService(testLogger(), capture)

	done := make(chan error, 1)
	go func() {
		_, err := svc.PerformCalibration(context.Background(), []string{"take a breath"})
		done <- err
	}()

	// Wait until the run is actually recording before cancelling
	require.Eventually(t, func() bool {
		return svc.State() == StateRecording
	}, time.Second, 5*time.Millisecond)

	svc.CancelCalibration()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, errors.ErrCanceled))
	case <-time.After(2 * time.Second):
		t.Fatal("calibration did not stop after cancel")
	}
	assert.Equal(t, StateCancelled, svc.State())
}

func TestPerformCalibrationSingleRun(t *testing.T) {
	capture := newFakeCapture(256)
	feedSpeech(capture, 3)

	svc := NewService(testLogger(), capture)

	go svc.PerformCalibration(context.Background(), []string{"take a breath"})
	require.Eventually(t, func() bool {
		return svc.State() == StateRecording
	}, time.Second, 5*time.Millisecond)

	_, err := svc.PerformCalibration(context.Background(), []string{"another phrase"})
	assert.True(t, errors.Is(err, errors.ErrAlreadyInProgress))

	svc.CancelCalibration()
}

func TestPerformCalibrationCaptureFailure(t *testing.T) {
	capture := newFakeCapture(1)
	capture.startErr = errors.NewDeviceFailure("no input device")

	svc := NewService(testLogger(), capture)
	data, err := svc.PerformCalibration(context.Background(), []string{"take a breath"})
	assert.Nil(t, data)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, svc.State())
}
