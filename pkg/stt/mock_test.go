package stt

import (
	"bytes"
	"context"
	"sync"
	"testing"

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

type callbackRecorder struct {
	mu      sync.Mutex
	results []struct {
		text    string
		isFinal bool
	}
}

func (r *callbackRecorder) callback(sessionID, text string, isFinal bool, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, struct {
		text    string
		isFinal bool
	}{text, isFinal})
}

func (r *callbackRecorder) finals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var finals []string
	for _, res := range r.results {
		if res.isFinal {
			finals = append(finals, res.text)
		}
	}
	return finals
}

func TestMockRecognizerEmitsScriptAndFinal(t *testing.T) {
	rec := NewMockRecognizer(testLogger())
	rec.SetScript([]string{"take a", "take a deep"}, "take a deep breath")

	recorder := &callbackRecorder{}
	rec.SetCallback(recorder.callback)

	// Enough audio to trigger both scripted interims before EOF
	audio := bytes.NewReader(make([]byte, 3*partialInterval))
	err := rec.StreamToText(context.Background(), audio, "session-1")
	require.NoError(t, err)

	recorder.mu.Lock()
	require.Len(t, recorder.results, 3)
	assert.Equal(t, "take a", recorder.results[0].text)
	assert.False(t, recorder.results[0].isFinal)
	assert.Equal(t, "take a deep", recorder.results[1].text)
	assert.False(t, recorder.results[1].isFinal)
	assert.Equal(t, "take a deep breath", recorder.results[2].text)
	assert.True(t, recorder.results[2].isFinal)
	recorder.mu.Unlock()

	assert.Equal(t, "take a deep breath", rec.FinalText("session-1"))
}

func TestMockRecognizerShortStreamStillFinalizes(t *testing.T) {
	rec := NewMockRecognizer(testLogger())
	rec.SetScript([]string{"hello"}, "hello world")

	recorder := &callbackRecorder{}
	rec.SetCallback(recorder.callback)

	// Stream too short for any interim threshold
	err := rec.StreamToText(context.Background(), bytes.NewReader(make([]byte, 64)), "s")
	require.NoError(t, err)

	assert.Equal(t, []string{"hello world"}, recorder.finals())
	assert.Equal(t, "hello world", rec.FinalText("s"))
}

func TestMockRecognizerAuthorization(t *testing.T) {
	rec := NewMockRecognizer(testLogger())

	ok, err := rec.RequestAuthorization(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	rec.DenyAuthorization()
	ok, err = rec.RequestAuthorization(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTranscriptInterimOnlyFallback(t *testing.T) {
	tr := newTranscript()
	tr.record("s", "partial one", false)
	tr.record("s", "partial two", false)

	assert.Equal(t, "partial two", tr.finalText("s"))

	tr.record("s", "final segment", true)
	tr.record("s", "second final", true)
	assert.Equal(t, "final segment second final", tr.finalText("s"))

	tr.clear("s")
	assert.Equal(t, "", tr.finalText("s"))
}

func TestRegistryFallsBackToDefault(t *testing.T) {
	registry := NewRegistry(testLogger(), "mock")
	rec := NewMockRecognizer(testLogger())
	rec.SetScript(nil, "fallback transcript")
	require.NoError(t, registry.Register(rec))

	err := registry.StreamTo(context.Background(), "no-such-vendor", bytes.NewReader(make([]byte, 16)), "s")
	require.NoError(t, err)
	assert.Equal(t, "fallback transcript", rec.FinalText("s"))
}

func TestRegistryNoRecognizerAvailable(t *testing.T) {
	registry := NewRegistry(testLogger(), "mock")

	err := registry.StreamTo(context.Background(), "google", bytes.NewReader(nil), "s")
	assert.True(t, errors.Is(err, errors.ErrNoRecognizer))
}
