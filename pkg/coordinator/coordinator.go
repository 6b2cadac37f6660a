// Package coordinator drives speech analysis sessions. A single goroutine
// owns all session state and consumes commands and capture buffers from
// channels, so the hot path never takes a lock.
package coordinator

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"resonance-engine/pkg/audio"
	"resonance-engine/pkg/calibration"
	"resonance-engine/pkg/dsp"
	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/metrics"
	"resonance-engine/pkg/scoring"
	"resonance-engine/pkg/stt"
	"resonance-engine/pkg/textmatch"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	scoreQueueSize      = 64
	textQueueSize       = 32
	silenceQueueSize    = 8
	transcriptQueueSize = 32
	pcmQueueSize        = 64

	// How long StopAnalysis waits for the recognizer to deliver its final
	// transcript after the audio stream ends
	finalTextTimeout = 5 * time.Second
)

// Capture is the slice of the audio capture surface the coordinator needs
type Capture interface {
	StartCapture(ctx context.Context) error
	StopCapture()
	Buffers() <-chan *audio.AnalyzedBuffer
	SampleRate() int
	PermissionGranted() bool
	RequestPermission(ctx context.Context) (bool, error)
}

// Config holds coordinator tunables
type Config struct {
	// SilenceThreshold is how long speech must be absent before a silence
	// event is emitted
	SilenceThreshold time.Duration

	// Vendor selects the recognizer, falling back to the registry default
	Vendor string
}

// Coordinator runs at most one analysis session at a time
type Coordinator struct {
	logger      *logrus.Logger
	capture     Capture
	registry    *stt.Registry
	calibration *calibration.Service
	config      Config

	commands    chan interface{}
	transcripts chan transcriptEvent

	// levels has its own lock, safe to read outside the actor goroutine
	levels *audio.LevelMonitor
}

type transcriptEvent struct {
	sessionID string
	text      string
	isFinal   bool
}

type cmdStart struct {
	ctx      context.Context
	expected string
	baseline *calibration.Data
	reply    chan startReply
}

type startReply struct {
	streams *Streams
	err     error
}

type cmdStop struct {
	reply chan *scoring.Record
}

type cmdCancel struct {
	reply chan struct{}
}

type cmdActive struct {
	reply chan bool
}

// session is the actor-private state of one live analysis
type session struct {
	id       string
	expected string
	mode     string

	calculator *scoring.Calculator
	recognizer stt.Recognizer

	buffers <-chan *audio.AnalyzedBuffer

	pcm        chan []byte
	writerDone chan struct{}
	sttDone    chan error
	sttCancel  context.CancelFunc

	scores  chan ScoreEvent
	text    chan TextEvent
	silence chan bool

	lastSpeech time.Duration
	sawBuffer  bool
	inSilence  bool

	startedAt time.Time
}

// NewCoordinator creates a coordinator. Run must be started before any
// session command is issued.
func NewCoordinator(logger *logrus.Logger, capture Capture, registry *stt.Registry, calibSvc *calibration.Service, cfg Config) *Coordinator {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 2 * time.Second
	}
	return &Coordinator{
		logger:      logger,
		capture:     capture,
		registry:    registry,
		calibration: calibSvc,
		config:      cfg,
		commands:    make(chan interface{}),
		transcripts: make(chan transcriptEvent, transcriptQueueSize),
		levels:      audio.NewLevelMonitor(),
	}
}

// Run is the actor loop. It returns when ctx is cancelled, cancelling any
// live session on the way out.
func (c *Coordinator) Run(ctx context.Context) {
	var sess *session

	for {
		var buffers <-chan *audio.AnalyzedBuffer
		if sess != nil {
			buffers = sess.buffers
		}

		select {
		case <-ctx.Done():
			if sess != nil {
				c.teardown(sess)
			}
			return

		case raw := <-c.commands:
			switch cmd := raw.(type) {
			case cmdStart:
				streams, err := c.handleStart(cmd, &sess)
				cmd.reply <- startReply{streams: streams, err: err}
			case cmdStop:
				cmd.reply <- c.handleStop(&sess)
			case cmdCancel:
				if sess != nil {
					c.teardown(sess)
					sess = nil
				}
				cmd.reply <- struct{}{}
			case cmdActive:
				cmd.reply <- sess != nil
			}

		case buf, ok := <-buffers:
			if !ok {
				sess.buffers = nil
				continue
			}
			c.handleBuffer(sess, buf)

		case ev := <-c.transcripts:
			if sess != nil && ev.sessionID == sess.id {
				c.handleTranscript(sess, ev)
			}
		}
	}
}

// StartAnalysis begins a session. No-op when one is already active. The
// returned streams close when the session ends.
func (c *Coordinator) StartAnalysis(ctx context.Context, expectedText string, baseline *calibration.Data) (*Streams, error) {
	reply := make(chan startReply, 1)
	select {
	case c.commands <- cmdStart{ctx: ctx, expected: expectedText, baseline: baseline, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r := <-reply
	return r.streams, r.err
}

// StopAnalysis ends the session and returns the final record, or nil when
// the utterance was too short to score or no session was active
func (c *Coordinator) StopAnalysis() *scoring.Record {
	reply := make(chan *scoring.Record, 1)
	c.commands <- cmdStop{reply: reply}
	return <-reply
}

// CancelAnalysis aborts the session without producing a record
func (c *Coordinator) CancelAnalysis() {
	reply := make(chan struct{}, 1)
	c.commands <- cmdCancel{reply: reply}
	<-reply
}

// PerformCalibration runs a guided calibration. Rejected while an analysis
// session is live, since both need the microphone.
func (c *Coordinator) PerformCalibration(ctx context.Context, phrases []string) (*calibration.Data, error) {
	if c.Active() {
		return nil, errors.NewAlreadyInProgress("analysis session active, cannot calibrate")
	}
	return c.calibration.PerformCalibration(ctx, phrases)
}

// CancelCalibration aborts a running calibration
func (c *Coordinator) CancelCalibration() {
	c.calibration.CancelCalibration()
}

// Level returns the smoothed capture level of the live session. Between
// sessions it reports the reset (zero) level.
func (c *Coordinator) Level() audio.Level {
	return c.levels.Snapshot()
}

// Active reports whether a session is live
func (c *Coordinator) Active() bool {
	reply := make(chan bool, 1)
	c.commands <- cmdActive{reply: reply}
	return <-reply
}

func (c *Coordinator) handleStart(cmd cmdStart, sess **session) (*Streams, error) {
	if *sess != nil {
		c.logger.Debug("Analysis already active, ignoring start")
		return nil, nil
	}

	if !c.capture.PermissionGranted() {
		granted, err := c.capture.RequestPermission(cmd.ctx)
		if err != nil {
			return nil, errors.Wrap(err, "microphone permission request failed")
		}
		if !granted {
			return nil, errors.NewPermissionDenied("microphone permission denied")
		}
	}

	recognizer, ok := c.registry.Get(c.config.Vendor)
	if !ok {
		recognizer, ok = c.registry.Default()
		if !ok {
			return nil, errors.ErrNoRecognizer
		}
	}

	authorized, err := recognizer.RequestAuthorization(cmd.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "recognizer authorization failed")
	}
	if !authorized {
		return nil, errors.NewRecognizerDenied("speech recognition not authorized")
	}

	mode := "standard"
	if cmd.baseline != nil {
		mode = "calibrated"
	}

	s := &session{
		id:         uuid.New().String(),
		expected:   cmd.expected,
		mode:       mode,
		calculator: scoring.NewCalculator(c.logger),
		recognizer: recognizer,
		pcm:        make(chan []byte, pcmQueueSize),
		writerDone: make(chan struct{}),
		sttDone:    make(chan error, 1),
		scores:     make(chan ScoreEvent, scoreQueueSize),
		text:       make(chan TextEvent, textQueueSize),
		silence:    make(chan bool, silenceQueueSize),
		startedAt:  time.Now(),
	}
	s.calculator.StartSession(cmd.baseline)

	if err := c.capture.StartCapture(cmd.ctx); err != nil {
		return nil, err
	}
	s.buffers = c.capture.Buffers()

	// Feed the recognizer through a pipe so it sees a plain audio stream.
	// A dedicated writer goroutine keeps a stalled recognizer from ever
	// blocking the actor loop.
	pr, pw := io.Pipe()
	go pcmWriter(s.pcm, pw, s.writerDone)

	sttCtx, sttCancel := context.WithCancel(context.Background())
	s.sttCancel = sttCancel

	recognizer.SetCallback(func(sessionID, text string, isFinal bool, metadata map[string]interface{}) {
		select {
		case c.transcripts <- transcriptEvent{sessionID: sessionID, text: text, isFinal: isFinal}:
		default:
		}
	})

	go func() {
		err := recognizer.StreamToText(sttCtx, pr, s.id)
		// Close the read end so the writer sees ErrClosedPipe instead of
		// blocking forever once the recognizer stops reading
		pr.CloseWithError(err)
		s.sttDone <- err
	}()

	metrics.AddGauge(metrics.AnalysisSessionsActive, 1)
	c.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"mode":       s.mode,
		"recognizer": recognizer.Name(),
	}).Info("Analysis session started")

	*sess = s
	return &Streams{Scores: s.scores, Text: s.text, Silence: s.silence}, nil
}

// handleBuffer is the per-block hot path: score inputs, recognizer feed,
// silence tracking, realtime score event
func (c *Coordinator) handleBuffer(s *session, buf *audio.AnalyzedBuffer) {
	pitch := dsp.DetectPitch(buf.Samples, buf.SampleRate)
	s.calculator.AddSample(buf.RMS, pitch)
	c.levels.Update(buf.RMS, buf.Peak)

	select {
	case s.pcm <- encodePCM16(buf.Samples):
	default:
		// Recognizer is not keeping up; scoring still proceeds
	}

	c.trackSilence(s, buf)

	if score := s.calculator.RealtimeScore(); score > 0 {
		select {
		case s.scores <- ScoreEvent{Score: score, Timestamp: buf.Timestamp}:
		default:
		}
	}
}

// trackSilence is edge-triggered: one event entering silence, one leaving.
// Buffer timestamps come from the sample counter, so detection does not
// depend on the wall clock.
func (c *Coordinator) trackSilence(s *session, buf *audio.AnalyzedBuffer) {
	if !s.sawBuffer {
		s.sawBuffer = true
		s.lastSpeech = buf.Timestamp
	}

	if buf.ContainsSpeech() {
		s.lastSpeech = buf.Timestamp
		if s.inSilence {
			s.inSilence = false
			c.emitSilence(s, false)
			metrics.IncCounterVec(metrics.SilenceEvents, "ended")
		}
		return
	}

	if !s.inSilence && buf.Timestamp-s.lastSpeech >= c.config.SilenceThreshold {
		s.inSilence = true
		c.emitSilence(s, true)
		metrics.IncCounterVec(metrics.SilenceEvents, "started")
	}
}

func (c *Coordinator) emitSilence(s *session, silent bool) {
	select {
	case s.silence <- silent:
	default:
	}
}

// handleTranscript refreshes the running accuracy estimate on every update;
// the stop path recomputes it from the full transcript
func (c *Coordinator) handleTranscript(s *session, ev transcriptEvent) {
	accuracy := textmatch.Accuracy(s.expected, ev.text)
	s.calculator.SetTextAccuracy(accuracy)

	select {
	case s.text <- TextEvent{Text: ev.text, IsFinal: ev.isFinal, Accuracy: accuracy}:
	default:
	}
}

// handleStop drains the capture tail, waits for the final transcript, and
// scores the session
func (c *Coordinator) handleStop(sess **session) *scoring.Record {
	s := *sess
	if s == nil {
		return nil
	}
	*sess = nil

	c.capture.StopCapture()

	// The capture channel is closed now; fold the tail into the session
	if s.buffers != nil {
		for buf := range s.buffers {
			c.handleBuffer(s, buf)
		}
	}

	// End of audio: the recognizer sees EOF and finishes its stream
	close(s.pcm)

	select {
	case err := <-s.sttDone:
		if err != nil {
			c.logger.WithError(err).WithField("session_id", s.id).Warn("Recognizer ended with error, scoring without transcript confirmation")
		}
	case <-time.After(finalTextTimeout):
		c.logger.WithField("session_id", s.id).Warn("Timed out waiting for final transcript")
		s.sttCancel()
	}

	// The recognizer has exited (or been cancelled) and its end of the pipe
	// is closed, so the writer cannot stay blocked
	<-s.writerDone

	c.drainTranscripts()

	finalText := s.recognizer.FinalText(s.id)
	accuracy := textmatch.Accuracy(s.expected, finalText)
	s.calculator.SetTextAccuracy(accuracy)

	record := s.calculator.FinalScore(s.mode)

	c.closeStreams(s)
	s.sttCancel()

	duration := time.Since(s.startedAt)
	metrics.AddGauge(metrics.AnalysisSessionsActive, -1)
	metrics.ObserveHistogram(metrics.AnalysisSessionDuration, duration.Seconds())

	fields := logrus.Fields{
		"session_id": s.id,
		"duration":   duration,
		"transcript": finalText,
		"accuracy":   accuracy,
	}
	if record != nil {
		fields["score"] = record.Score
	}
	c.logger.WithFields(fields).Info("Analysis session stopped")

	return record
}

// teardown aborts a session without scoring
func (c *Coordinator) teardown(s *session) {
	c.capture.StopCapture()
	if s.buffers != nil {
		for range s.buffers {
		}
	}

	s.sttCancel()
	close(s.pcm)
	<-s.writerDone
	c.drainTranscripts()

	c.closeStreams(s)

	metrics.AddGauge(metrics.AnalysisSessionsActive, -1)
	c.logger.WithField("session_id", s.id).Info("Analysis session cancelled")
}

// drainTranscripts clears queued events so a later session never sees them
func (c *Coordinator) drainTranscripts() {
	for {
		select {
		case <-c.transcripts:
		default:
			return
		}
	}
}

func (c *Coordinator) closeStreams(s *session) {
	close(s.scores)
	close(s.text)
	close(s.silence)
	c.levels.Reset()
}

// pcmWriter relays encoded audio into the pipe. Once a write fails the
// remaining blocks are discarded so capture never backs up.
func pcmWriter(pcm <-chan []byte, pw *io.PipeWriter, done chan<- struct{}) {
	defer close(done)
	defer pw.Close()

	broken := false
	for block := range pcm {
		if broken {
			continue
		}
		if _, err := pw.Write(block); err != nil {
			broken = true
		}
	}
}

// encodePCM16 converts float samples to 16-bit little-endian PCM
func encodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample*32767)))
	}
	return out
}
