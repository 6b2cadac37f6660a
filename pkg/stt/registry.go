package stt

import (
	"context"
	"io"
	"time"

	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Registry manages all speech-to-text recognizers
type Registry struct {
	logger      *logrus.Logger
	recognizers map[string]Recognizer
	defaultName string
}

// NewRegistry creates a recognizer registry
func NewRegistry(logger *logrus.Logger, defaultName string) *Registry {
	return &Registry{
		logger:      logger,
		recognizers: make(map[string]Recognizer),
		defaultName: defaultName,
	}
}

// Register initializes and registers a recognizer
func (r *Registry) Register(rec Recognizer) error {
	if err := rec.Initialize(); err != nil {
		r.logger.WithFields(logrus.Fields{
			"recognizer": rec.Name(),
			"error":      err,
		}).Error("Failed to initialize speech-to-text recognizer")
		return err
	}

	r.recognizers[rec.Name()] = rec
	r.logger.WithField("recognizer", rec.Name()).Info("Registered speech-to-text recognizer")

	return nil
}

// Get returns a recognizer by name
func (r *Registry) Get(name string) (Recognizer, bool) {
	rec, exists := r.recognizers[name]
	return rec, exists
}

// Default returns the default recognizer
func (r *Registry) Default() (Recognizer, bool) {
	return r.Get(r.defaultName)
}

// StreamTo streams audio to the named recognizer, falling back to the
// default when the name is unknown
func (r *Registry) StreamTo(ctx context.Context, name string, audioStream io.Reader, sessionID string) error {
	startTime := time.Now()

	r.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"recognizer": name,
	}).Info("Starting transcription")

	rec, exists := r.Get(name)
	if !exists {
		r.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"recognizer": name,
			"default":    r.defaultName,
		}).Warn("Recognizer not found, falling back to default")

		rec, exists = r.Default()
		if !exists {
			return errors.ErrNoRecognizer
		}
	}

	err := rec.StreamToText(ctx, audioStream, sessionID)

	elapsed := time.Since(startTime)
	status := "ok"
	if err != nil {
		status = "error"
		metrics.IncCounterVec(metrics.STTErrors, rec.Name(), "stream")
	}
	metrics.IncCounterVec(metrics.STTRequestsTotal, rec.Name(), status)
	metrics.ObserveHistogramVec(metrics.STTLatency, elapsed.Seconds(), rec.Name())

	r.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"recognizer":  rec.Name(),
		"duration_ms": elapsed.Milliseconds(),
		"error":       err != nil,
	}).Info("Transcription completed")

	return err
}
