package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// CaptureConfig holds the capture manager's tunables
type CaptureConfig struct {
	// BlockSize is the fixed analysis block size in samples
	BlockSize int

	// QueueSize is the capacity of the analyzed-buffer channel
	QueueSize int

	// SpeechThresholdDB overrides the default speech classification floor
	// when non-zero
	SpeechThresholdDB float64

	// RecordingEnabled writes each session's audio to a WAV file on stop
	RecordingEnabled bool
	RecordingDir     string
}

// CaptureManager owns the input session lifecycle and publishes a live,
// ordered stream of analyzed buffers. Single producer; the stream is closed
// when capture stops.
type CaptureManager struct {
	logger *logrus.Logger
	source InputSource
	config CaptureConfig

	mu        sync.Mutex
	capturing bool
	buffers   chan *AnalyzedBuffer
	samplePos int64

	// session recording, only populated when RecordingEnabled
	recorded []float64
}

// NewCaptureManager creates a capture manager over the given input source
func NewCaptureManager(logger *logrus.Logger, source InputSource, config CaptureConfig) *CaptureManager {
	if config.BlockSize <= 0 {
		config.BlockSize = 1024
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}

	return &CaptureManager{
		logger: logger,
		source: source,
		config: config,
	}
}

// StartCapture configures and starts the input session. Calling it while
// already capturing is a no-op.
func (m *CaptureManager) StartCapture(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capturing {
		m.logger.Debug("Capture already running, ignoring start")
		return nil
	}

	if !m.source.PermissionGranted() {
		return errors.NewPermissionDenied("microphone access has not been granted")
	}

	m.buffers = make(chan *AnalyzedBuffer, m.config.QueueSize)
	m.samplePos = 0
	m.recorded = nil

	if err := m.source.Start(m.config.BlockSize, m.process); err != nil {
		m.buffers = nil
		return errors.Wrap(errors.NewDeviceFailure("failed to start audio input"), err.Error())
	}

	m.capturing = true
	metrics.IncCounter(metrics.CaptureSessionsStarted)

	m.logger.WithFields(logrus.Fields{
		"sample_rate": m.source.SampleRate(),
		"block_size":  m.config.BlockSize,
	}).Info("Audio capture started")

	return nil
}

// StopCapture tears down the input session and closes the buffer stream.
// Calling it while not capturing is a no-op.
func (m *CaptureManager) StopCapture() {
	// Flip state under the lock, but call source.Stop outside it. Stop waits
	// for in-flight block callbacks, and those callbacks take the same lock.
	m.mu.Lock()
	if !m.capturing {
		m.mu.Unlock()
		return
	}
	m.capturing = false
	buffers := m.buffers
	m.buffers = nil
	recorded := m.recorded
	m.recorded = nil
	m.mu.Unlock()

	if err := m.source.Stop(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop audio input cleanly")
	}

	// No callback can publish past this point; late blocks see capturing
	// false and drop out before touching the channel
	close(buffers)

	if m.config.RecordingEnabled && len(recorded) > 0 {
		m.writeSessionRecording(recorded)
	}

	m.logger.Info("Audio capture stopped")
}

// RequestPermission delegates to the platform permission system
func (m *CaptureManager) RequestPermission(ctx context.Context) (bool, error) {
	return m.source.RequestPermission(ctx)
}

// PermissionGranted reports whether capture permission is currently held
func (m *CaptureManager) PermissionGranted() bool {
	return m.source.PermissionGranted()
}

// Capturing reports whether a capture session is active
func (m *CaptureManager) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

// Buffers returns the live buffer stream for the current session, or nil
// when capture is not running.
func (m *CaptureManager) Buffers() <-chan *AnalyzedBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffers
}

// SampleRate returns the input source sample rate
func (m *CaptureManager) SampleRate() int {
	return m.source.SampleRate()
}

// process runs on the input source's delivery context once per block
func (m *CaptureManager) process(block []float32) {
	samples := make([]float64, len(block))
	for i, s := range block {
		samples[i] = float64(s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.capturing {
		return
	}

	sampleRate := m.source.SampleRate()
	timestamp := time.Duration(m.samplePos) * time.Second / time.Duration(sampleRate)
	m.samplePos += int64(len(samples))

	buffer := NewAnalyzedBuffer(samples, sampleRate, timestamp)
	if m.config.SpeechThresholdDB != 0 {
		buffer.SpeechFloorDB = m.config.SpeechThresholdDB
	}

	if m.config.RecordingEnabled {
		m.recorded = append(m.recorded, samples...)
	}

	select {
	case m.buffers <- buffer:
		metrics.IncCounter(metrics.CaptureBuffersProcessed)
	default:
		metrics.IncCounter(metrics.CaptureBuffersDropped)
		m.logger.Debug("Buffer queue full, dropping capture block")
	}
}

func (m *CaptureManager) writeSessionRecording(recorded []float64) {
	name := fmt.Sprintf("capture_%s.wav", time.Now().Format("20060102_150405"))
	path := filepath.Join(m.config.RecordingDir, name)

	if err := os.MkdirAll(m.config.RecordingDir, 0755); err != nil {
		m.logger.WithError(err).Warn("Failed to create recording directory")
		return
	}

	data, err := EncodeWAV(recorded, m.source.SampleRate())
	if err != nil {
		m.logger.WithError(err).Warn("Failed to encode session recording")
		return
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		m.logger.WithError(err).WithField("path", path).Warn("Failed to write session recording")
		return
	}

	m.logger.WithFields(logrus.Fields{
		"path":    path,
		"samples": len(recorded),
	}).Debug("Wrote session recording")
}
