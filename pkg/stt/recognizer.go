// Package stt provides streaming speech-to-text recognizers. A recognizer
// consumes raw PCM audio from an io.Reader and delivers incremental
// transcription results through a callback while keeping a per-session
// transcript for final scoring.
package stt

import (
	"context"
	"io"
	"strings"
	"sync"
)

// TranscriptionCallback is the callback signature for incremental
// transcription results
type TranscriptionCallback func(sessionID, text string, isFinal bool, metadata map[string]interface{})

// Recognizer defines the interface for speech-to-text recognizers
type Recognizer interface {
	// Initialize prepares the recognizer with any required configuration
	Initialize() error

	// Name returns the recognizer name
	Name() string

	// RequestAuthorization verifies the recognizer may be used, performing
	// any credential or consent check the vendor requires
	RequestAuthorization(ctx context.Context) (bool, error)

	// StreamToText streams PCM audio to the recognizer until the reader
	// ends or the context is cancelled. Results arrive via the callback.
	StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error

	// SetCallback sets the callback for incremental transcription results
	SetCallback(callback TranscriptionCallback)

	// FinalText returns the accumulated final transcript for a session
	FinalText(sessionID string) string
}

// transcript accumulates recognized text per session. Final segments are
// appended; interim results only replace the pending tail.
type transcript struct {
	mu       sync.Mutex
	finals   map[string][]string
	interims map[string]string
}

func newTranscript() *transcript {
	return &transcript{
		finals:   make(map[string][]string),
		interims: make(map[string]string),
	}
}

func (t *transcript) record(sessionID, text string, isFinal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isFinal {
		t.finals[sessionID] = append(t.finals[sessionID], text)
		delete(t.interims, sessionID)
		return
	}
	t.interims[sessionID] = text
}

// finalText joins final segments; when a session produced only interim
// results the last interim is returned so short utterances still score
func (t *transcript) finalText(sessionID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if segments, ok := t.finals[sessionID]; ok && len(segments) > 0 {
		return strings.Join(segments, " ")
	}
	return t.interims[sessionID]
}

func (t *transcript) clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.finals, sessionID)
	delete(t.interims, sessionID)
}
