package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"resonance-engine/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	Audio     AudioConfig     `json:"audio"`
	STT       STTConfig       `json:"stt"`
	Cache     CacheConfig     `json:"cache"`
	Realtime  RealtimeConfig  `json:"realtime"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`
}

// AudioConfig holds capture and analysis configuration
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz
	SampleRate int `json:"sample_rate" env:"AUDIO_SAMPLE_RATE" default:"44100"`

	// BlockSize is the fixed analysis block size in samples
	BlockSize int `json:"block_size" env:"AUDIO_BLOCK_SIZE" default:"1024"`

	// SpeechThresholdDB is the decibel floor above which a buffer is
	// classified as containing speech
	SpeechThresholdDB float64 `json:"speech_threshold_db" env:"AUDIO_SPEECH_THRESHOLD_DB" default:"-40"`

	// SilenceThreshold is how long speech must be absent before a
	// silence event is emitted
	SilenceThreshold time.Duration `json:"silence_threshold" env:"AUDIO_SILENCE_THRESHOLD" default:"2s"`

	// BufferQueueSize is the capacity of the analyzed-buffer channel
	BufferQueueSize int `json:"buffer_queue_size" env:"AUDIO_BUFFER_QUEUE_SIZE" default:"64"`

	// RecordingEnabled writes each capture session to a WAV file for debugging
	RecordingEnabled bool   `json:"recording_enabled" env:"AUDIO_RECORDING_ENABLED" default:"false"`
	RecordingDir     string `json:"recording_dir" env:"AUDIO_RECORDING_DIR" default:"./recordings"`
}

// STTConfig holds speech-to-text provider configuration
type STTConfig struct {
	// DefaultVendor is the recognizer used when none is requested explicitly
	DefaultVendor string `json:"default_vendor" env:"STT_DEFAULT_VENDOR" default:"mock"`

	Google GoogleSTTConfig `json:"google"`
	Amazon AmazonSTTConfig `json:"amazon"`
}

// GoogleSTTConfig holds Google Speech-to-Text configuration
type GoogleSTTConfig struct {
	Enabled                    bool   `json:"enabled" env:"GOOGLE_STT_ENABLED" default:"false"`
	APIKey                     string `json:"-" env:"GOOGLE_STT_API_KEY"`
	CredentialsFile            string `json:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Language                   string `json:"language" env:"GOOGLE_STT_LANGUAGE" default:"en-US"`
	SampleRate                 int    `json:"sample_rate" env:"GOOGLE_STT_SAMPLE_RATE" default:"44100"`
	Model                      string `json:"model" env:"GOOGLE_STT_MODEL" default:"latest_long"`
	EnableAutomaticPunctuation bool   `json:"auto_punctuation" env:"GOOGLE_STT_AUTO_PUNCTUATION" default:"true"`
}

// AmazonSTTConfig holds Amazon Transcribe configuration
type AmazonSTTConfig struct {
	Enabled         bool   `json:"enabled" env:"AMAZON_STT_ENABLED" default:"false"`
	Region          string `json:"region" env:"AWS_REGION" default:"us-east-1"`
	AccessKeyID     string `json:"-" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"-" env:"AWS_SECRET_ACCESS_KEY"`
	Language        string `json:"language" env:"AMAZON_STT_LANGUAGE" default:"en-US"`
	SampleRate      int    `json:"sample_rate" env:"AMAZON_STT_SAMPLE_RATE" default:"44100"`
}

// CacheConfig holds audio cache configuration
type CacheConfig struct {
	// Directory is the cache directory for audio blobs and the metadata index
	Directory string `json:"directory" env:"CACHE_DIR" default:"./audio-cache"`

	// MaxSizeBytes is the cache size budget
	MaxSizeBytes int64 `json:"max_size_bytes" env:"CACHE_MAX_SIZE_BYTES" default:"524288000"`

	// EntryTTL is the per-entry expiration horizon
	EntryTTL time.Duration `json:"entry_ttl" env:"CACHE_ENTRY_TTL" default:"720h"`
}

// RealtimeConfig holds the WebSocket event hub configuration
type RealtimeConfig struct {
	Enabled  bool   `json:"enabled" env:"REALTIME_ENABLED" default:"true"`
	HTTPPort int    `json:"http_port" env:"HTTP_PORT" default:"8080"`
	WSPath   string `json:"ws_path" env:"REALTIME_WS_PATH" default:"/ws"`

	MetricsEnabled bool `json:"metrics_enabled" env:"METRICS_ENABLED" default:"true"`
}

// MessagingConfig holds AMQP configuration
type MessagingConfig struct {
	AMQPUrl       string `json:"-" env:"AMQP_URL"`
	AMQPQueueName string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME" default:"resonance_records"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"text"`
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// Load loads the configuration from environment variables and .env files
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	// Try loading a .env file from the usual locations
	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadAudioConfig(logger, &config.Audio); err != nil {
		return nil, errors.Wrap(err, "failed to load audio configuration")
	}

	if err := loadSTTConfig(logger, &config.STT); err != nil {
		return nil, errors.Wrap(err, "failed to load STT configuration")
	}

	if err := loadCacheConfig(logger, &config.Cache); err != nil {
		return nil, errors.Wrap(err, "failed to load cache configuration")
	}

	loadRealtimeConfig(&config.Realtime)
	loadMessagingConfig(logger, &config.Messaging)
	loadLoggingConfig(&config.Logging)

	if err := validateConfig(logger, config); err != nil {
		return nil, err
	}

	return config, nil
}

func loadAudioConfig(logger *logrus.Logger, config *AudioConfig) error {
	config.SampleRate = getEnvInt("AUDIO_SAMPLE_RATE", 44100)
	config.BlockSize = getEnvInt("AUDIO_BLOCK_SIZE", 1024)
	config.SpeechThresholdDB = getEnvFloat("AUDIO_SPEECH_THRESHOLD_DB", -40)
	config.SilenceThreshold = getEnvDuration("AUDIO_SILENCE_THRESHOLD", 2*time.Second)
	config.BufferQueueSize = getEnvInt("AUDIO_BUFFER_QUEUE_SIZE", 64)
	config.RecordingEnabled = getEnvBool("AUDIO_RECORDING_ENABLED", false)
	config.RecordingDir = getEnv("AUDIO_RECORDING_DIR", "./recordings")

	if config.RecordingEnabled {
		if err := os.MkdirAll(config.RecordingDir, 0755); err != nil {
			logger.WithError(err).WithField("dir", config.RecordingDir).Warn("Failed to create recording directory, disabling session recording")
			config.RecordingEnabled = false
		}
	}

	return nil
}

func loadSTTConfig(logger *logrus.Logger, config *STTConfig) error {
	config.DefaultVendor = strings.ToLower(getEnv("STT_DEFAULT_VENDOR", "mock"))

	config.Google.Enabled = getEnvBool("GOOGLE_STT_ENABLED", false)
	config.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	config.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	config.Google.Language = getEnv("GOOGLE_STT_LANGUAGE", "en-US")
	config.Google.SampleRate = getEnvInt("GOOGLE_STT_SAMPLE_RATE", 44100)
	config.Google.Model = getEnv("GOOGLE_STT_MODEL", "latest_long")
	config.Google.EnableAutomaticPunctuation = getEnvBool("GOOGLE_STT_AUTO_PUNCTUATION", true)

	config.Amazon.Enabled = getEnvBool("AMAZON_STT_ENABLED", false)
	config.Amazon.Region = getEnv("AWS_REGION", "us-east-1")
	config.Amazon.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	config.Amazon.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	config.Amazon.Language = getEnv("AMAZON_STT_LANGUAGE", "en-US")
	config.Amazon.SampleRate = getEnvInt("AMAZON_STT_SAMPLE_RATE", 44100)

	if config.Google.Enabled && config.Google.APIKey == "" && config.Google.CredentialsFile == "" {
		logger.Warn("Google STT enabled without credentials, disabling")
		config.Google.Enabled = false
	}

	if config.Amazon.Enabled && (config.Amazon.AccessKeyID == "" || config.Amazon.SecretAccessKey == "") {
		logger.Warn("Amazon STT enabled without AWS credentials, disabling")
		config.Amazon.Enabled = false
	}

	return nil
}

func loadCacheConfig(logger *logrus.Logger, config *CacheConfig) error {
	config.Directory = getEnv("CACHE_DIR", "./audio-cache")
	config.MaxSizeBytes = int64(getEnvInt("CACHE_MAX_SIZE_BYTES", 500*1024*1024))
	config.EntryTTL = getEnvDuration("CACHE_ENTRY_TTL", 30*24*time.Hour)

	if config.MaxSizeBytes <= 0 {
		logger.WithField("max_size_bytes", config.MaxSizeBytes).Warn("Invalid cache size budget, using 500MB")
		config.MaxSizeBytes = 500 * 1024 * 1024
	}

	if config.EntryTTL <= 0 {
		logger.WithField("entry_ttl", config.EntryTTL).Warn("Invalid cache entry TTL, using 30 days")
		config.EntryTTL = 30 * 24 * time.Hour
	}

	return nil
}

func loadRealtimeConfig(config *RealtimeConfig) {
	config.Enabled = getEnvBool("REALTIME_ENABLED", true)
	config.HTTPPort = getEnvInt("HTTP_PORT", 8080)
	config.WSPath = getEnv("REALTIME_WS_PATH", "/ws")
	config.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "resonance_records")

	if config.AMQPUrl == "" {
		logger.Debug("AMQP_URL not set, message publishing disabled")
	}
}

func loadLoggingConfig(config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	config.Format = getEnv("LOG_FORMAT", "text")
	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")
}

func validateConfig(logger *logrus.Logger, config *Config) error {
	if config.Audio.SampleRate <= 0 {
		logger.WithField("sample_rate", config.Audio.SampleRate).Warn("Invalid sample rate, using 44100")
		config.Audio.SampleRate = 44100
	}

	if config.Audio.BlockSize < 256 {
		// Pitch detection needs at least 256 samples per block
		logger.WithField("block_size", config.Audio.BlockSize).Warn("Block size below analysis minimum, using 1024")
		config.Audio.BlockSize = 1024
	}

	if config.Audio.BufferQueueSize <= 0 {
		config.Audio.BufferQueueSize = 64
	}

	if config.Realtime.HTTPPort <= 0 || config.Realtime.HTTPPort > 65535 {
		return errors.NewInvalidInput(fmt.Sprintf("invalid HTTP port: %d", config.Realtime.HTTPPort))
	}

	return nil
}

// ApplyLogging configures the logger based on the logging configuration
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get a string environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
