package coordinator

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"resonance-engine/pkg/audio"
	"resonance-engine/pkg/calibration"
	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/scoring"
	"resonance-engine/pkg/stt"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 44100

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type harness struct {
	source      *audio.MockSource
	capture     *audio.CaptureManager
	recognizer  *stt.MockRecognizer
	coordinator *Coordinator
	cancel      context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := testLogger()
	source := audio.NewMockSource(testSampleRate)
	capture := audio.NewCaptureManager(logger, source, audio.CaptureConfig{
		BlockSize: 2048,
		QueueSize: 256,
	})

	recognizer := stt.NewMockRecognizer(logger)
	registry := stt.NewRegistry(logger, "mock")
	require.NoError(t, registry.Register(recognizer))

	calibSvc := calibration.NewService(logger, capture)

	coord := NewCoordinator(logger, capture, registry, calibSvc, Config{
		SilenceThreshold: 2 * time.Second,
		Vendor:           "mock",
	})

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(cancel)

	return &harness{
		source:      source,
		capture:     capture,
		recognizer:  recognizer,
		coordinator: coord,
		cancel:      cancel,
	}
}

// emitSpeech pushes n blocks of a voiced tone through the mock source
func (h *harness) emitSpeech(n int, freq, amplitude float64) {
	block := make([]float32, 2048)
	for b := 0; b < n; b++ {
		for i := range block {
			block[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(b*2048+i)/testSampleRate))
		}
		h.source.Emit(block)
	}
}

// emitSilence pushes n near-silent blocks
func (h *harness) emitSilence(n int) {
	block := make([]float32, 2048)
	for b := 0; b < n; b++ {
		h.source.Emit(block)
	}
}

func TestStartAnalysisPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.source.Deny()

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	assert.Nil(t, streams)
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))
	assert.False(t, h.coordinator.Active())
}

func TestStartAnalysisRecognizerDenied(t *testing.T) {
	h := newHarness(t)
	h.recognizer.DenyAuthorization()

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	assert.Nil(t, streams)
	assert.True(t, errors.Is(err, errors.ErrRecognizerDenied))
}

func TestStartAnalysisNoOpWhenActive(t *testing.T) {
	h := newHarness(t)

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotNil(t, streams)

	again, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Nil(t, again)

	h.coordinator.CancelAnalysis()
}

func TestAnalysisEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.recognizer.SetScript(nil, "take a deep breath")

	streams, err := h.coordinator.StartAnalysis(context.Background(), "take a deep breath", nil)
	require.NoError(t, err)
	require.NotNil(t, streams)
	require.True(t, h.coordinator.Active())

	h.emitSpeech(15, 180, 0.35)

	require.Eventually(t, func() bool {
		return h.coordinator.Level().Current > 0
	}, time.Second, 5*time.Millisecond)

	record := h.coordinator.StopAnalysis()
	require.NotNil(t, record)

	// Level meter resets between sessions
	assert.Zero(t, h.coordinator.Level().Current)

	assert.Equal(t, "standard", record.Mode)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, 1.0, record.TextAccuracy)
	assert.Greater(t, record.Score, 0.0)
	assert.LessOrEqual(t, record.Score, 1.0)
	assert.Greater(t, record.VocalEnergy, 0.0)
	assert.Greater(t, record.PitchStability, 0.0)
	assert.False(t, h.coordinator.Active())

	// All three streams close exactly once
	for range streams.Scores {
	}
	for range streams.Text {
	}
	for range streams.Silence {
	}
}

func TestTranscriptUpdatesRunningAccuracy(t *testing.T) {
	c := NewCoordinator(testLogger(), nil, nil, nil, Config{})
	s := &session{
		expected:   "take a deep breath",
		calculator: scoring.NewCalculator(testLogger()),
		text:       make(chan TextEvent, 4),
	}
	s.calculator.StartSession(nil)

	// A partial update already refreshes the running estimate
	c.handleTranscript(s, transcriptEvent{text: "take a deep", isFinal: false})

	ev := <-s.text
	assert.False(t, ev.IsFinal)
	assert.Greater(t, ev.Accuracy, 0.0)
	assert.Equal(t, ev.Accuracy, s.calculator.TextAccuracy())

	c.handleTranscript(s, transcriptEvent{text: "take a deep breath", isFinal: true})
	ev = <-s.text
	assert.True(t, ev.IsFinal)
	assert.Equal(t, 1.0, s.calculator.TextAccuracy())
}

// deadRecognizer exits its stream immediately without consuming any audio,
// like an engine that crashes mid-session.
type deadRecognizer struct{}

func (r *deadRecognizer) Initialize() error { return nil }

func (r *deadRecognizer) Name() string { return "dead" }

func (r *deadRecognizer) RequestAuthorization(context.Context) (bool, error) { return true, nil }

func (r *deadRecognizer) StreamToText(context.Context, io.Reader, string) error {
	return errors.New("engine exited")
}

func (r *deadRecognizer) SetCallback(stt.TranscriptionCallback) {}

func (r *deadRecognizer) FinalText(string) string { return "" }

func TestStopAnalysisAfterRecognizerDies(t *testing.T) {
	logger := testLogger()
	source := audio.NewMockSource(testSampleRate)
	capture := audio.NewCaptureManager(logger, source, audio.CaptureConfig{
		BlockSize: 2048,
		QueueSize: 256,
	})
	registry := stt.NewRegistry(logger, "dead")
	require.NoError(t, registry.Register(&deadRecognizer{}))

	coord := NewCoordinator(logger, capture, registry, calibration.NewService(logger, capture), Config{
		Vendor: "dead",
	})
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(cancel)

	streams, err := coord.StartAnalysis(context.Background(), "take a deep breath", nil)
	require.NoError(t, err)
	require.NotNil(t, streams)

	// Far more audio than the recognizer will ever read
	block := make([]float32, 2048)
	for b := 0; b < 15; b++ {
		for i := range block {
			block[i] = float32(0.35 * math.Sin(2*math.Pi*180*float64(b*2048+i)/testSampleRate))
		}
		source.Emit(block)
	}

	done := make(chan *scoring.Record, 1)
	go func() { done <- coord.StopAnalysis() }()

	select {
	case record := <-done:
		require.NotNil(t, record, "scoring proceeds without a transcript")
		assert.Zero(t, record.TextAccuracy)
		assert.Greater(t, record.Score, 0.0)
	case <-time.After(8 * time.Second):
		t.Fatal("StopAnalysis did not return after the recognizer died")
	}

	for range streams.Scores {
	}
	for range streams.Text {
	}
	for range streams.Silence {
	}
	assert.False(t, coord.Active())
}

func TestAnalysisEmitsRealtimeScores(t *testing.T) {
	h := newHarness(t)

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)

	h.emitSpeech(10, 180, 0.35)

	select {
	case ev, ok := <-streams.Scores:
		require.True(t, ok)
		assert.Greater(t, ev.Score, 0.0)
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime score event")
	}

	h.coordinator.CancelAnalysis()
}

func TestSilenceEdgeTriggered(t *testing.T) {
	h := newHarness(t)

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)

	// Speech, then over two seconds of buffer time without it. Each block
	// is 2048/44100 s, so 50 silent blocks cross the threshold.
	h.emitSpeech(5, 180, 0.35)
	h.emitSilence(50)

	select {
	case silent, ok := <-streams.Silence:
		require.True(t, ok)
		assert.True(t, silent)
	case <-time.After(2 * time.Second):
		t.Fatal("no silence event")
	}

	// Speech resumes: exactly one falling edge
	h.emitSpeech(2, 180, 0.35)

	select {
	case silent, ok := <-streams.Silence:
		require.True(t, ok)
		assert.False(t, silent)
	case <-time.After(2 * time.Second):
		t.Fatal("no silence-end event")
	}

	// No further events while speech continues
	h.emitSpeech(5, 180, 0.35)
	h.coordinator.CancelAnalysis()

	var extra int
	for range streams.Silence {
		extra++
	}
	assert.Zero(t, extra)
}

func TestStopWithoutSessionReturnsNil(t *testing.T) {
	h := newHarness(t)
	assert.Nil(t, h.coordinator.StopAnalysis())
}

func TestShortUtteranceScoresNil(t *testing.T) {
	h := newHarness(t)

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotNil(t, streams)

	h.emitSpeech(3, 180, 0.35)

	assert.Nil(t, h.coordinator.StopAnalysis())
}

func TestCancelAnalysisProducesNoRecord(t *testing.T) {
	h := newHarness(t)

	streams, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)

	h.emitSpeech(15, 180, 0.35)
	h.coordinator.CancelAnalysis()

	assert.False(t, h.coordinator.Active())
	for range streams.Scores {
	}

	// A fresh session starts cleanly after cancel
	streams, err = h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NotNil(t, streams)
	h.coordinator.CancelAnalysis()
}

func TestCalibratedModeRecord(t *testing.T) {
	h := newHarness(t)
	h.recognizer.SetScript(nil, "hello world")

	baseline := &calibration.Data{BaselineRMS: 0.2, CalibratedAt: time.Now()}
	_, err := h.coordinator.StartAnalysis(context.Background(), "hello world", baseline)
	require.NoError(t, err)

	h.emitSpeech(15, 180, 0.35)

	record := h.coordinator.StopAnalysis()
	require.NotNil(t, record)
	assert.Equal(t, "calibrated", record.Mode)
}

func TestCalibrationRejectedWhileAnalyzing(t *testing.T) {
	h := newHarness(t)

	_, err := h.coordinator.StartAnalysis(context.Background(), "hello", nil)
	require.NoError(t, err)

	_, err = h.coordinator.PerformCalibration(context.Background(), []string{"a phrase"})
	assert.True(t, errors.Is(err, errors.ErrAlreadyInProgress))

	h.coordinator.CancelAnalysis()
}
