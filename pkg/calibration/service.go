package calibration

import (
	"context"
	"strings"
	"sync"
	"time"

	"resonance-engine/pkg/audio"
	"resonance-engine/pkg/dsp"
	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const (
	// Per-phrase recording window: base time plus per-word allowance
	perWordDuration  = 400 * time.Millisecond
	phraseBaseWindow = 1 * time.Second
	maxPhraseWindow  = 10 * time.Second

	// Leading audio discarded at the start of each phrase while the
	// speaker begins reading
	settleDelay = 300 * time.Millisecond

	progressQueueSize = 16
)

// Capture is the slice of the audio capture surface calibration needs
type Capture interface {
	StartCapture(ctx context.Context) error
	StopCapture()
	Buffers() <-chan *audio.AnalyzedBuffer
	SampleRate() int
}

// Service runs guided calibration sessions: the speaker reads a set of
// phrases while the service measures level and pitch, then derives a
// personal baseline from the aggregate.
type Service struct {
	logger  *logrus.Logger
	capture Capture

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	events chan Progress
}

// NewService creates a calibration service on top of a capture source
func NewService(logger *logrus.Logger, capture Capture) *Service {
	return &Service{
		logger:  logger,
		capture: capture,
		state:   StateIdle,
		events:  make(chan Progress, progressQueueSize),
	}
}

// Events returns the progress stream. Events are dropped rather than
// blocking when no one is listening.
func (s *Service) Events() <-chan Progress {
	return s.events
}

// State returns the current lifecycle state
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PerformCalibration records the given phrases and derives a baseline.
// Only one run may be active at a time.
func (s *Service) PerformCalibration(ctx context.Context, phrases []string) (*Data, error) {
	if len(phrases) == 0 {
		return nil, errors.NewInvalidInput("calibration requires at least one phrase")
	}

	s.mu.Lock()
	if s.state == StateRecording || s.state == StateProcessing {
		s.mu.Unlock()
		return nil, errors.NewAlreadyInProgress("calibration already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.state = StateRecording
	s.cancel = cancel
	s.mu.Unlock()

	data, err := s.run(runCtx, phrases)

	s.mu.Lock()
	s.cancel = nil
	switch {
	case err == nil:
		s.state = StateComplete
		metrics.IncCounterVec(metrics.CalibrationRuns, "success")
	case errors.Is(err, errors.ErrCanceled):
		s.state = StateCancelled
		metrics.IncCounterVec(metrics.CalibrationRuns, "cancelled")
	default:
		s.state = StateFailed
		metrics.IncCounterVec(metrics.CalibrationRuns, "failed")
	}
	s.mu.Unlock()

	final := Progress{State: s.State(), PhraseCount: len(phrases)}
	if final.State == StateComplete {
		final.Progress = 1.0
	}
	s.emit(final)

	return data, err
}

// CancelCalibration aborts a running calibration. No-op when idle.
func (s *Service) CancelCalibration() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Service) run(ctx context.Context, phrases []string) (*Data, error) {
	if err := s.capture.StartCapture(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to start capture for calibration")
	}
	defer s.capture.StopCapture()

	buffers := s.capture.Buffers()

	var rmsSamples, pitchSamples, dbSamples []float64

	for i, phrase := range phrases {
		s.emit(Progress{
			State:       StateRecording,
			PhraseIndex: i,
			PhraseCount: len(phrases),
			Phrase:      phrase,
			Progress:    float64(i) / float64(len(phrases)),
		})

		window := phraseWindow(phrase)
		collected, err := collectWindow(ctx, buffers, window)
		if err != nil {
			return nil, err
		}

		for _, buf := range collected {
			if !buf.ContainsSpeech() {
				continue
			}
			rmsSamples = append(rmsSamples, buf.RMS)
			dbSamples = append(dbSamples, buf.Decibels())
			if pitch := dsp.DetectPitch(buf.Samples, buf.SampleRate); pitch > 0 {
				pitchSamples = append(pitchSamples, pitch)
			}
		}
	}

	s.mu.Lock()
	s.state = StateProcessing
	s.mu.Unlock()
	s.emit(Progress{State: StateProcessing, PhraseCount: len(phrases), Progress: 1.0})

	data := deriveData(rmsSamples, pitchSamples, dbSamples)

	s.logger.WithFields(logrus.Fields{
		"phrases":       len(phrases),
		"speech_frames": len(rmsSamples),
		"voiced_frames": len(pitchSamples),
		"baseline_rms":  data.BaselineRMS,
		"pitch_min":     data.PitchMin,
		"pitch_max":     data.PitchMax,
	}).Info("Calibration complete")

	return data, nil
}

// collectWindow drains buffers until their sample-position timestamps span
// the window, skipping the leading settle period
func collectWindow(ctx context.Context, buffers <-chan *audio.AnalyzedBuffer, window time.Duration) ([]*audio.AnalyzedBuffer, error) {
	var collected []*audio.AnalyzedBuffer
	var start time.Duration = -1

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrCanceled, "calibration cancelled")
		case buf, ok := <-buffers:
			if !ok {
				return nil, errors.New("capture stream closed during calibration")
			}
			if start < 0 {
				start = buf.Timestamp
			}
			elapsed := buf.Timestamp - start
			if elapsed < settleDelay {
				continue
			}
			collected = append(collected, buf)
			if elapsed >= window {
				return collected, nil
			}
		}
	}
}

func phraseWindow(phrase string) time.Duration {
	words := len(strings.Fields(phrase))
	window := phraseBaseWindow + time.Duration(words)*perWordDuration
	if window > maxPhraseWindow {
		window = maxPhraseWindow
	}
	return window
}

// deriveData aggregates the collected samples, falling back to defaults for
// anything the run could not measure
func deriveData(rmsSamples, pitchSamples, dbSamples []float64) *Data {
	data := DefaultData()
	data.CalibratedAt = time.Now()

	if len(rmsSamples) > 0 {
		data.BaselineRMS = Median(rmsSamples)
	}
	if len(pitchSamples) > 0 {
		data.PitchMin = Percentile10(pitchSamples)
		data.PitchMax = Percentile90(pitchSamples)
	}
	if len(dbSamples) > 0 {
		data.VolumeMin = Percentile10(dbSamples)
		data.VolumeMax = Percentile90(dbSamples)
	}

	return data
}

func (s *Service) emit(p Progress) {
	select {
	case s.events <- p:
	default:
	}
}
