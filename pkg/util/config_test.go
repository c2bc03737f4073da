package util

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	os.Clearenv()
	logger := logrus.New()

	config, err := LoadConfig(logger)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.HTTPPort)
	assert.Equal(t, []string{"deepgram"}, config.SupportedVendors)
	assert.Equal(t, "deepgram", config.DefaultVendor)
	assert.Equal(t, 8000, config.SampleRate)
	assert.Equal(t, "mulaw", config.AudioEncoding)
	assert.Equal(t, 15*time.Second, config.TipMinInterval)
	assert.Equal(t, 10*time.Minute, config.ShortCallThreshold)
	assert.Equal(t, 5*time.Minute, config.ReconciliationWindow)
	assert.Equal(t, 30*time.Second, config.ReconciliationSlack)
	assert.Equal(t, logrus.InfoLevel, config.LogLevel)
	assert.False(t, config.DatabaseEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_PORT", "9090")
	os.Setenv("SUPPORTED_VENDORS", "deepgram,google")
	os.Setenv("DEFAULT_SPEECH_VENDOR", "google")
	os.Setenv("TIP_MIN_INTERVAL", "30s")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("DATABASE_DSN", "user:pass@tcp(localhost:3306)/livecoach")
	defer os.Clearenv()

	logger := logrus.New()
	config, err := LoadConfig(logger)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.HTTPPort)
	assert.Equal(t, []string{"deepgram", "google"}, config.SupportedVendors)
	assert.Equal(t, "google", config.DefaultVendor)
	assert.Equal(t, 30*time.Second, config.TipMinInterval)
	assert.Equal(t, logrus.DebugLevel, config.LogLevel)
	assert.True(t, config.DatabaseEnabled)
}

func TestValidateRejectsUnknownDefaultVendor(t *testing.T) {
	os.Clearenv()
	os.Setenv("SUPPORTED_VENDORS", "deepgram")
	os.Setenv("DEFAULT_SPEECH_VENDOR", "whisper")
	defer os.Clearenv()

	_, err := LoadConfig(logrus.New())
	assert.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_PORT", "70000")
	defer os.Clearenv()

	_, err := LoadConfig(logrus.New())
	assert.Error(t, err)
}
