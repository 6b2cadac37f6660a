package audio

import (
	"context"
	"sync"
)

// InputSource abstracts the platform audio input. Implementations must stop
// invoking the block callback before Stop returns.
type InputSource interface {
	// PermissionGranted reports whether capture permission is currently held
	PermissionGranted() bool

	// RequestPermission asks the platform for capture permission
	RequestPermission(ctx context.Context) (bool, error)

	// SampleRate returns the source sample rate in Hz
	SampleRate() int

	// Start begins delivering sample blocks of the given size to fn
	Start(blockSize int, fn func(block []float32)) error

	// Stop tears down the input stream
	Stop() error
}

// MockSource is an InputSource driven by the test (or by the offline demo
// binary): blocks are emitted synchronously via Emit.
type MockSource struct {
	mu         sync.Mutex
	sampleRate int
	granted    bool
	running    bool
	startErr   error
	fn         func([]float32)
}

// NewMockSource creates a mock source with permission granted.
func NewMockSource(sampleRate int) *MockSource {
	return &MockSource{
		sampleRate: sampleRate,
		granted:    true,
	}
}

// Deny revokes the mock's capture permission
func (s *MockSource) Deny() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = false
}

// Grant grants the mock's capture permission
func (s *MockSource) Grant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = true
}

// FailStart makes the next Start return err
func (s *MockSource) FailStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// PermissionGranted implements InputSource
func (s *MockSource) PermissionGranted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted
}

// RequestPermission implements InputSource
func (s *MockSource) RequestPermission(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, nil
}

// SampleRate implements InputSource
func (s *MockSource) SampleRate() int {
	return s.sampleRate
}

// Start implements InputSource
func (s *MockSource) Start(_ int, fn func(block []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startErr != nil {
		return s.startErr
	}

	s.running = true
	s.fn = fn
	return nil
}

// Stop implements InputSource
func (s *MockSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.fn = nil
	return nil
}

// Emit delivers one block to the capture callback, synchronously
func (s *MockSource) Emit(block []float32) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		fn(block)
	}
}

// Running reports whether the source has been started and not stopped
func (s *MockSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
