package stt

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// partialInterval is how many audio bytes are consumed between scripted
// interim results
const partialInterval = 32 * 1024

// MockRecognizer is a scripted recognizer for tests and offline use. It
// consumes the audio stream and replays a configured transcript: interim
// results as bytes arrive, the final result at end of stream.
type MockRecognizer struct {
	logger *logrus.Logger

	mu       sync.Mutex
	script   []string
	final    string
	denyAuth bool
	authErr  error

	callback   TranscriptionCallback
	transcript *transcript
}

// NewMockRecognizer creates a mock recognizer with a default script
func NewMockRecognizer(logger *logrus.Logger) *MockRecognizer {
	return &MockRecognizer{
		logger:     logger,
		script:     []string{"the quick brown", "the quick brown fox jumps"},
		final:      "the quick brown fox jumps over the lazy dog",
		transcript: newTranscript(),
	}
}

// SetScript replaces the interim results and the final transcript
func (m *MockRecognizer) SetScript(partials []string, final string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = partials
	m.final = final
}

// DenyAuthorization makes subsequent authorization checks fail
func (m *MockRecognizer) DenyAuthorization() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyAuth = true
}

// FailAuthorization makes subsequent authorization checks return err
func (m *MockRecognizer) FailAuthorization(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErr = err
}

// Name returns the recognizer name
func (m *MockRecognizer) Name() string {
	return "mock"
}

// Initialize initializes the mock recognizer
func (m *MockRecognizer) Initialize() error {
	m.logger.Info("Mock recognizer initialized")
	return nil
}

// RequestAuthorization reports the configured authorization outcome
func (m *MockRecognizer) RequestAuthorization(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authErr != nil {
		return false, m.authErr
	}
	return !m.denyAuth, nil
}

// SetCallback sets the callback for incremental results
func (m *MockRecognizer) SetCallback(callback TranscriptionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// FinalText returns the accumulated final transcript for a session
func (m *MockRecognizer) FinalText(sessionID string) string {
	return m.transcript.finalText(sessionID)
}

// StreamToText consumes the audio stream and replays the script. Interim
// results fire as audio accumulates; remaining interims and the final
// transcript fire at end of stream.
func (m *MockRecognizer) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	m.logger.WithField("session_id", sessionID).Info("Mock recognizer processing audio stream")

	m.transcript.clear(sessionID)

	m.mu.Lock()
	script := make([]string, len(m.script))
	copy(script, m.script)
	final := m.final
	m.mu.Unlock()

	scriptIndex := 0
	consumed := 0
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			m.logger.WithField("session_id", sessionID).Info("Mock recognizer stopped")
			return ctx.Err()
		default:
		}

		n, err := audioStream.Read(buffer)
		consumed += n

		for scriptIndex < len(script) && consumed >= (scriptIndex+1)*partialInterval {
			m.publish(sessionID, script[scriptIndex], false)
			scriptIndex++
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			m.logger.WithError(err).WithField("session_id", sessionID).Error("Error reading audio stream")
			return err
		}
	}

	// Flush remaining scripted interims before the final result
	for ; scriptIndex < len(script); scriptIndex++ {
		m.publish(sessionID, script[scriptIndex], false)
	}
	m.publish(sessionID, final, true)

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"bytes":      consumed,
		"transcript": final,
	}).Info("Mock recognizer stream finished")

	return nil
}

func (m *MockRecognizer) publish(sessionID, text string, isFinal bool) {
	m.transcript.record(sessionID, text, isFinal)

	m.mu.Lock()
	callback := m.callback
	m.mu.Unlock()

	if callback != nil {
		callback(sessionID, text, isFinal, map[string]interface{}{
			"provider":   m.Name(),
			"confidence": 0.95,
			"word_count": len(strings.Fields(text)),
		})
	}
}
