package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 1024, cfg.Audio.BlockSize)
	assert.Equal(t, -40.0, cfg.Audio.SpeechThresholdDB)
	assert.Equal(t, 2*time.Second, cfg.Audio.SilenceThreshold)
	assert.Equal(t, int64(500*1024*1024), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.EntryTTL)
	assert.Equal(t, "mock", cfg.STT.DefaultVendor)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUDIO_SAMPLE_RATE", "16000")
	t.Setenv("AUDIO_SILENCE_THRESHOLD", "3s")
	t.Setenv("CACHE_MAX_SIZE_BYTES", "1048576")
	t.Setenv("STT_DEFAULT_VENDOR", "Google")

	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 3*time.Second, cfg.Audio.SilenceThreshold)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxSizeBytes)
	assert.Equal(t, "google", cfg.STT.DefaultVendor, "vendor name should be normalized")
}

func TestLoadFixesInvalidValues(t *testing.T) {
	t.Setenv("AUDIO_BLOCK_SIZE", "64")
	t.Setenv("CACHE_MAX_SIZE_BYTES", "-1")

	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Audio.BlockSize, "block size below pitch-detection minimum should be reset")
	assert.Equal(t, int64(500*1024*1024), cfg.Cache.MaxSizeBytes)
}

func TestSTTCredentialGate(t *testing.T) {
	t.Setenv("GOOGLE_STT_ENABLED", "true")
	t.Setenv("AMAZON_STT_ENABLED", "true")
	t.Setenv("GOOGLE_STT_API_KEY", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	cfg, err := Load(newTestLogger())
	require.NoError(t, err)

	assert.False(t, cfg.STT.Google.Enabled, "Google STT without credentials should be disabled")
	assert.False(t, cfg.STT.Amazon.Enabled, "Amazon STT without credentials should be disabled")
}

func TestApplyLogging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug", Format: "json"}}
	logger := logrus.New()

	require.NoError(t, cfg.ApplyLogging(logger))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	cfg.Logging.Level = "nonsense"
	assert.Error(t, cfg.ApplyLogging(logger))
}
