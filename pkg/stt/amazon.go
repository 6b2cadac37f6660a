package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"resonance-engine/pkg/config"
	"resonance-engine/pkg/errors"
)

// AmazonRecognizer implements the Recognizer interface for Amazon Transcribe
// streaming
type AmazonRecognizer struct {
	logger *logrus.Logger
	client *transcribestreaming.Client
	config *config.AmazonSTTConfig
	mutex  sync.RWMutex

	callback   TranscriptionCallback
	transcript *transcript
}

// NewAmazonRecognizer creates an Amazon Transcribe recognizer
func NewAmazonRecognizer(logger *logrus.Logger, cfg *config.AmazonSTTConfig) *AmazonRecognizer {
	return &AmazonRecognizer{
		logger:     logger,
		config:     cfg,
		transcript: newTranscript(),
	}
}

// Name returns the recognizer name
func (p *AmazonRecognizer) Name() string {
	return "amazon-transcribe"
}

// Initialize creates the Transcribe Streaming client
func (p *AmazonRecognizer) Initialize() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.config == nil {
		return fmt.Errorf("Amazon STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Amazon STT is disabled, skipping initialization")
		return nil
	}

	if p.config.AccessKeyID == "" || p.config.SecretAccessKey == "" {
		return fmt.Errorf("Amazon STT requires AWS access key ID and secret access key")
	}

	region := p.config.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     p.config.AccessKeyID,
				SecretAccessKey: p.config.SecretAccessKey,
			}, nil
		})),
	)
	if err != nil {
		p.logger.WithError(err).Error("Failed to load AWS configuration")
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	p.client = transcribestreaming.NewFromConfig(cfg)

	p.logger.WithFields(logrus.Fields{
		"region":      region,
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
	}).Info("Amazon Transcribe recognizer initialized")

	return nil
}

// RequestAuthorization reports whether the client is ready for use
func (p *AmazonRecognizer) RequestAuthorization(ctx context.Context) (bool, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.config == nil || !p.config.Enabled {
		return false, nil
	}
	if p.client == nil {
		return false, errors.NewRecognizerDenied("Amazon Transcribe client not initialized")
	}
	return true, nil
}

// SetCallback sets the callback for incremental results
func (p *AmazonRecognizer) SetCallback(callback TranscriptionCallback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callback = callback
}

// FinalText returns the accumulated final transcript for a session
func (p *AmazonRecognizer) FinalText(sessionID string) string {
	return p.transcript.finalText(sessionID)
}

// StreamToText streams PCM16 audio to Amazon Transcribe
func (p *AmazonRecognizer) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	p.mutex.RLock()
	if p.client == nil {
		p.mutex.RUnlock()
		return errors.ErrUnavailable
	}
	p.mutex.RUnlock()

	p.transcript.clear(sessionID)

	logger := p.logger.WithField("session_id", sessionID)
	logger.Info("Starting Amazon Transcribe streaming transcription")

	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(p.config.Language),
		MediaSampleRateHertz: aws.Int32(int32(p.config.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	}

	resp, err := p.client.StartStreamTranscription(ctx, input)
	if err != nil {
		logger.WithError(err).Error("Failed to start Amazon Transcribe stream")
		return fmt.Errorf("failed to start transcription stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)
	doneChan := make(chan struct{})

	// Audio sender
	go func() {
		defer func() {
			if closeErr := resp.GetStream().Close(); closeErr != nil {
				logger.WithError(closeErr).Debug("Failed to close stream")
			}
		}()

		buffer := make([]byte, 1024)
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-doneChan:
				return
			default:
				n, readErr := audioStream.Read(buffer)
				if readErr == io.EOF {
					logger.Debug("Audio stream ended")
					return
				}
				if readErr != nil {
					logger.WithError(readErr).Error("Failed to read from audio stream")
					errChan <- readErr
					return
				}

				if n > 0 {
					audioEvent := &types.AudioStreamMemberAudioEvent{
						Value: types.AudioEvent{
							AudioChunk: buffer[:n],
						},
					}

					if sendErr := resp.GetStream().Send(streamCtx, audioEvent); sendErr != nil {
						logger.WithError(sendErr).Error("Failed to send audio to Amazon Transcribe")
						errChan <- sendErr
						return
					}
				}
			}
		}
	}()

	// Response receiver
	go func() {
		defer close(doneChan)

		for event := range resp.GetStream().Events() {
			select {
			case <-streamCtx.Done():
				return
			default:
				if event != nil {
					p.processEvent(event, sessionID, logger)
				}
			}
		}

		if streamErr := resp.GetStream().Err(); streamErr != nil {
			logger.WithError(streamErr).Error("Amazon Transcribe stream error")
			errChan <- streamErr
		}
	}()

	select {
	case err := <-errChan:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-doneChan:
		cancel()
		return nil
	}
}

func (p *AmazonRecognizer) processEvent(event types.TranscriptResultStream, sessionID string, logger *logrus.Entry) {
	transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
	if !ok {
		logger.WithField("event_type", fmt.Sprintf("%T", event)).Debug("Unknown transcription event type")
		return
	}

	value := transcriptEvent.Value
	if value.Transcript == nil || value.Transcript.Results == nil {
		return
	}

	for _, result := range value.Transcript.Results {
		for _, alternative := range result.Alternatives {
			if alternative.Transcript == nil || *alternative.Transcript == "" {
				continue
			}

			text := *alternative.Transcript
			isFinal := !result.IsPartial

			p.transcript.record(sessionID, text, isFinal)

			logger.WithFields(logrus.Fields{
				"transcript": text,
				"is_final":   isFinal,
			}).Info("Received transcription from Amazon Transcribe")

			p.mutex.RLock()
			callback := p.callback
			p.mutex.RUnlock()

			if callback != nil {
				callback(sessionID, text, isFinal, map[string]interface{}{
					"provider":   p.Name(),
					"is_partial": result.IsPartial,
					"word_count": len(strings.Fields(text)),
				})
			}
		}
	}
}
