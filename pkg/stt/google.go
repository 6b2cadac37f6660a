package stt

import (
	"context"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"resonance-engine/pkg/config"
	"resonance-engine/pkg/errors"
)

// GoogleRecognizer implements the Recognizer interface for Google
// Speech-to-Text streaming recognition
type GoogleRecognizer struct {
	logger *logrus.Logger
	client *speech.Client
	config *config.GoogleSTTConfig

	callback   TranscriptionCallback
	transcript *transcript
}

// NewGoogleRecognizer creates a Google Speech-to-Text recognizer
func NewGoogleRecognizer(logger *logrus.Logger, cfg *config.GoogleSTTConfig) *GoogleRecognizer {
	return &GoogleRecognizer{
		logger:     logger,
		config:     cfg,
		transcript: newTranscript(),
	}
}

// Name returns the recognizer name
func (p *GoogleRecognizer) Name() string {
	return "google"
}

// Initialize creates the Google Speech client
func (p *GoogleRecognizer) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	var clientOptions []option.ClientOption

	if p.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.APIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		p.logger.Warn("No Google STT credentials provided (API key or credentials file)")
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	var err error
	p.client, err = speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"language":         p.config.Language,
		"sample_rate":      p.config.SampleRate,
		"model":            p.config.Model,
		"auto_punctuation": p.config.EnableAutomaticPunctuation,
	}).Info("Google Speech-to-Text client initialized")
	return nil
}

// RequestAuthorization reports whether the client is ready for use
func (p *GoogleRecognizer) RequestAuthorization(ctx context.Context) (bool, error) {
	if p.config == nil || !p.config.Enabled {
		return false, nil
	}
	if p.client == nil {
		return false, errors.NewRecognizerDenied("Google STT client not initialized")
	}
	return true, nil
}

// SetCallback sets the callback for incremental results
func (p *GoogleRecognizer) SetCallback(callback TranscriptionCallback) {
	p.callback = callback
}

// FinalText returns the accumulated final transcript for a session
func (p *GoogleRecognizer) FinalText(sessionID string) string {
	return p.transcript.finalText(sessionID)
}

// StreamToText streams PCM16 audio to Google Speech-to-Text with interim
// results enabled
func (p *GoogleRecognizer) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	if p.client == nil {
		return errors.ErrUnavailable
	}

	p.transcript.clear(sessionID)

	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to start Google Speech-to-Text stream")
		return err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               p.config.Language,
		EnableAutomaticPunctuation: p.config.EnableAutomaticPunctuation,
	}
	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig,
				InterimResults: true,
			},
		},
	}); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to send streaming config")
		return err
	}

	errChan := make(chan error, 2)
	doneChan := make(chan struct{})

	// Audio sender
	go func() {
		buffer := make([]byte, 1024)
		for {
			select {
			case <-ctx.Done():
				stream.CloseSend()
				return
			default:
				n, err := audioStream.Read(buffer)
				if err == io.EOF {
					stream.CloseSend()
					return
				}
				if err != nil {
					p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to read audio stream")
					errChan <- err
					return
				}

				if err := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: buffer[:n],
					},
				}); err != nil {
					p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to send audio content")
					errChan <- err
					return
				}
			}
		}
	}()

	// Response receiver
	go func() {
		defer close(doneChan)
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					p.logger.WithError(err).WithField("session_id", sessionID).Error("Error receiving streaming response")
					errChan <- err
				}
				return
			}

			for _, result := range resp.Results {
				for _, alt := range result.Alternatives {
					p.publish(sessionID, alt.Transcript, result.IsFinal, float64(alt.Confidence))
				}
			}
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-doneChan:
		return nil
	}
}

func (p *GoogleRecognizer) publish(sessionID, text string, isFinal bool, confidence float64) {
	if text == "" {
		return
	}

	p.transcript.record(sessionID, text, isFinal)

	level := p.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"text":       text,
		"final":      isFinal,
	})
	if isFinal {
		level.Info("Received final transcription")
	} else {
		level.Debug("Received interim transcription")
	}

	if p.callback != nil {
		p.callback(sessionID, text, isFinal, map[string]interface{}{
			"provider":   p.Name(),
			"confidence": confidence,
			"word_count": len(strings.Fields(text)),
		})
	}
}
