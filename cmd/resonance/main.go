package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"resonance-engine/pkg/audio"
	"resonance-engine/pkg/cache"
	"resonance-engine/pkg/calibration"
	"resonance-engine/pkg/config"
	"resonance-engine/pkg/coordinator"
	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/messaging"
	"resonance-engine/pkg/metrics"
	"resonance-engine/pkg/realtime"
	"resonance-engine/pkg/scoring"
	"resonance-engine/pkg/stt"
)

const baselineFileName = "calibration.json"

var (
	logger    = logrus.New()
	appConfig *config.Config

	captureManager *audio.CaptureManager
	portAudio      *audio.PortAudioSource
	sttRegistry    *stt.Registry
	calibSvc       *calibration.Service
	coord          *coordinator.Coordinator
	audioCache     *cache.Manager
	eventHub       *realtime.EventHub
	amqpClient     *messaging.Client

	rootCtx    context.Context
	rootCancel context.CancelFunc

	baselineMu sync.RWMutex
	baseline   *calibration.Data
)

func main() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	var err error
	appConfig, err = config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := appConfig.ApplyLogging(logger); err != nil {
		logger.WithError(err).Warn("Failed to apply logging configuration")
	}

	metrics.StartMetrics(logger, appConfig.Realtime.MetricsEnabled)

	if err := initComponents(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}
	defer shutdownComponents()

	loadBaseline()

	go coord.Run(rootCtx)
	go eventHub.Run(rootCtx)

	server := startHTTPServer()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}

	rootCancel()
}

func initComponents() error {
	// Audio input: real microphone unless the mock source is requested,
	// which keeps the binary usable on machines without audio hardware
	var source audio.InputSource
	if strings.EqualFold(os.Getenv("AUDIO_INPUT"), "mock") {
		logger.Info("Using mock audio input")
		source = audio.NewMockSource(appConfig.Audio.SampleRate)
	} else {
		portAudio = audio.NewPortAudioSource(logger, appConfig.Audio.SampleRate)
		source = portAudio
	}

	captureManager = audio.NewCaptureManager(logger, source, audio.CaptureConfig{
		BlockSize:         appConfig.Audio.BlockSize,
		QueueSize:         appConfig.Audio.BufferQueueSize,
		SpeechThresholdDB: appConfig.Audio.SpeechThresholdDB,
		RecordingEnabled:  appConfig.Audio.RecordingEnabled,
		RecordingDir:      appConfig.Audio.RecordingDir,
	})

	sttRegistry = stt.NewRegistry(logger, appConfig.STT.DefaultVendor)
	if err := sttRegistry.Register(stt.NewMockRecognizer(logger)); err != nil {
		return err
	}
	if appConfig.STT.Google.Enabled {
		if err := sttRegistry.Register(stt.NewGoogleRecognizer(logger, &appConfig.STT.Google)); err != nil {
			logger.WithError(err).Warn("Google recognizer unavailable")
		}
	}
	if appConfig.STT.Amazon.Enabled {
		if err := sttRegistry.Register(stt.NewAmazonRecognizer(logger, &appConfig.STT.Amazon)); err != nil {
			logger.WithError(err).Warn("Amazon recognizer unavailable")
		}
	}

	calibSvc = calibration.NewService(logger, captureManager)

	coord = coordinator.NewCoordinator(logger, captureManager, sttRegistry, calibSvc, coordinator.Config{
		SilenceThreshold: appConfig.Audio.SilenceThreshold,
		Vendor:           appConfig.STT.DefaultVendor,
	})

	var err error
	audioCache, err = cache.NewManager(logger, cache.Config{
		Directory:    appConfig.Cache.Directory,
		MaxSizeBytes: appConfig.Cache.MaxSizeBytes,
		EntryTTL:     appConfig.Cache.EntryTTL,
	})
	if err != nil {
		return err
	}

	eventHub = realtime.NewEventHub(logger)

	amqpClient = messaging.NewClient(logger, messaging.Config{
		URL:       appConfig.Messaging.AMQPUrl,
		QueueName: appConfig.Messaging.AMQPQueueName,
	})
	if err := amqpClient.Connect(); err != nil {
		logger.WithError(err).Warn("AMQP unavailable, records will not be published")
	}

	return nil
}

func shutdownComponents() {
	if amqpClient != nil {
		amqpClient.Disconnect()
	}
	if portAudio != nil {
		portAudio.Terminate()
	}
}

func startHTTPServer() *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc(appConfig.Realtime.WSPath, eventHub.ServeWS)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/api/analysis/start", handleAnalysisStart)
	mux.HandleFunc("/api/analysis/stop", handleAnalysisStop)
	mux.HandleFunc("/api/analysis/cancel", handleAnalysisCancel)
	mux.HandleFunc("/api/analysis/level", handleAnalysisLevel)
	mux.HandleFunc("/api/calibration/start", handleCalibrationStart)
	mux.HandleFunc("/api/calibration/cancel", handleCalibrationCancel)
	mux.HandleFunc("/api/calibration", handleCalibrationGet)
	mux.HandleFunc("/api/audio", handleAudio)
	metrics.RegisterHandler(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", appConfig.Realtime.HTTPPort),
		Handler: mux,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	return server
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"analysis_active":  coord.Active(),
		"cache_entries":    audioCache.Len(),
		"amqp_connected":   amqpClient.IsConnected(),
		"ws_clients":       eventHub.ClientCount(),
		"calibration_done": currentBaseline() != nil,
	})
}

type analysisStartRequest struct {
	ExpectedText   string `json:"expected_text"`
	UseCalibration bool   `json:"use_calibration"`
}

func handleAnalysisStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analysisStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var data *calibration.Data
	if req.UseCalibration {
		data = currentBaseline()
	}

	streams, err := coord.StartAnalysis(r.Context(), req.ExpectedText, data)
	if err != nil {
		writeError(w, err)
		return
	}
	if streams == nil {
		http.Error(w, "analysis already active", http.StatusConflict)
		return
	}

	go forwardStreams(streams)

	mode := "standard"
	if data != nil {
		mode = "calibrated"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "mode": mode})
}

// forwardStreams relays session events to WebSocket clients until the
// session's channels close
func forwardStreams(streams *coordinator.Streams) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for ev := range streams.Scores {
			eventHub.Broadcast(realtime.EventScore, ev)
		}
	}()
	go func() {
		defer wg.Done()
		for ev := range streams.Text {
			eventHub.Broadcast(realtime.EventText, ev)
		}
	}()
	go func() {
		defer wg.Done()
		for silent := range streams.Silence {
			eventHub.Broadcast(realtime.EventSilence, map[string]bool{"silent": silent})
		}
	}()

	wg.Wait()
}

func handleAnalysisStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	record := coord.StopAnalysis()
	if record == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"record": nil})
		return
	}

	publishRecord(record)
	writeJSON(w, http.StatusOK, map[string]interface{}{"record": record})
}

func publishRecord(record *scoring.Record) {
	eventHub.Broadcast(realtime.EventRecord, record)
	if err := amqpClient.PublishRecord(record, ""); err != nil {
		logger.WithError(err).Warn("Failed to publish record to AMQP")
	}
}

func handleAnalysisCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	coord.CancelAnalysis()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func handleAnalysisLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, coord.Level())
}

type calibrationStartRequest struct {
	Phrases []string `json:"phrases"`
}

func handleCalibrationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req calibrationStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	data, err := coord.PerformCalibration(r.Context(), req.Phrases)
	if err != nil {
		writeError(w, err)
		return
	}

	setBaseline(data)
	saveBaseline(data)
	writeJSON(w, http.StatusOK, data)
}

func handleCalibrationCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	coord.CancelCalibration()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func handleCalibrationGet(w http.ResponseWriter, r *http.Request) {
	data := currentBaseline()
	if data == nil {
		writeJSON(w, http.StatusOK, calibration.DefaultData())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleAudio serves the synthesized-audio cache: GET returns a cached blob,
// PUT stores one, DELETE removes it
func handleAudio(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	voice := r.URL.Query().Get("voice")
	if text == "" || voice == "" {
		http.Error(w, "text and voice query parameters required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		data, ok := audioCache.Get(text, voice)
		if !ok {
			http.Error(w, "not cached", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(data)

	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		fileName, err := audioCache.Put(text, voice, data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cached", "file": fileName})

	case http.MethodDelete:
		if err := audioCache.Remove(text, voice); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func currentBaseline() *calibration.Data {
	baselineMu.RLock()
	defer baselineMu.RUnlock()
	return baseline
}

func setBaseline(data *calibration.Data) {
	baselineMu.Lock()
	defer baselineMu.Unlock()
	baseline = data
}

func baselinePath() string {
	return appConfig.Cache.Directory + string(os.PathSeparator) + baselineFileName
}

func loadBaseline() {
	raw, err := os.ReadFile(baselinePath())
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Warn("Failed to read saved calibration")
		}
		return
	}

	var data calibration.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.WithError(err).Warn("Saved calibration unreadable, ignoring")
		return
	}

	setBaseline(&data)
	logger.WithField("calibrated_at", data.CalibratedAt).Info("Loaded saved calibration")
}

func saveBaseline(data *calibration.Data) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		logger.WithError(err).Warn("Failed to encode calibration")
		return
	}
	if err := os.WriteFile(baselinePath(), raw, 0o644); err != nil {
		logger.WithError(err).Warn("Failed to save calibration")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Warn("Failed to write JSON response")
	}
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrPermissionDenied), errors.Is(err, errors.ErrRecognizerDenied):
		status = http.StatusForbidden
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrAlreadyInProgress):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrNoRecognizer), errors.Is(err, errors.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrCanceled):
		status = http.StatusRequestTimeout
	}

	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		writeJSON(w, status, domainErr.AsJSON())
		return
	}
	http.Error(w, err.Error(), status)
}
