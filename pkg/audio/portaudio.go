package audio

import (
	"context"
	"sync"

	"resonance-engine/pkg/errors"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// PortAudioSource is an InputSource backed by the default system microphone.
type PortAudioSource struct {
	logger     *logrus.Logger
	sampleRate int

	mu          sync.Mutex
	initialized bool
	stream      *portaudio.Stream
	buf         []float32
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewPortAudioSource creates a portaudio-backed input source
func NewPortAudioSource(logger *logrus.Logger, sampleRate int) *PortAudioSource {
	return &PortAudioSource{
		logger:     logger,
		sampleRate: sampleRate,
	}
}

// PermissionGranted reports whether the audio subsystem has been initialized.
// PortAudio has no separate permission API; the OS prompts, if at all, when
// the host initializes the device.
func (s *PortAudioSource) PermissionGranted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// RequestPermission initializes the audio subsystem
func (s *PortAudioSource) RequestPermission(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return true, nil
	}

	if err := portaudio.Initialize(); err != nil {
		s.logger.WithError(err).Error("Failed to initialize audio subsystem")
		return false, errors.Wrap(errors.ErrPermissionDenied, err.Error())
	}

	s.initialized = true
	return true, nil
}

// SampleRate implements InputSource
func (s *PortAudioSource) SampleRate() int {
	return s.sampleRate
}

// Start opens the default input stream and pumps blocks to fn
func (s *PortAudioSource) Start(blockSize int, fn func(block []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.ErrPermissionDenied
	}
	if s.stream != nil {
		return nil
	}

	s.buf = make([]float32, blockSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), blockSize, s.buf)
	if err != nil {
		return errors.Wrap(errors.ErrDeviceFailure, err.Error())
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return errors.Wrap(errors.ErrDeviceFailure, err.Error())
	}

	s.stream = stream
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.pump(fn)

	s.logger.WithFields(logrus.Fields{
		"sample_rate": s.sampleRate,
		"block_size":  blockSize,
	}).Debug("PortAudio input stream started")

	return nil
}

// pump reads fixed blocks from the device until Stop
func (s *PortAudioSource) pump(fn func(block []float32)) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			s.logger.WithError(err).Debug("PortAudio read failed")
			continue
		}

		block := make([]float32, len(s.buf))
		copy(block, s.buf)
		fn(block)
	}
}

// Stop closes the input stream; no callbacks occur after it returns
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}

	close(s.done)
	s.wg.Wait()

	if err := s.stream.Stop(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop PortAudio stream")
	}
	if err := s.stream.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close PortAudio stream")
	}

	s.stream = nil
	return nil
}

// Terminate releases the audio subsystem
func (s *PortAudioSource) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		if err := portaudio.Terminate(); err != nil {
			s.logger.WithError(err).Warn("Failed to terminate audio subsystem")
		}
		s.initialized = false
	}
}
