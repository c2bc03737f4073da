package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Configuration defines the structure for storing application configuration
type Configuration struct {
	// HTTP server configuration
	HTTPPort          int
	HTTPEnableMetrics bool

	// Speech-to-text configuration
	SupportedVendors []string
	DefaultVendor    string
	SampleRate       int
	AudioEncoding    string
	EndpointingMs    int
	InterimResults   bool

	// Coaching configuration
	TipMinInterval       time.Duration
	LLMModel             string
	LLMTimeout           time.Duration
	ShortCallThreshold   time.Duration
	ReconciliationWindow time.Duration
	ReconciliationSlack  time.Duration

	// Session limits
	MaxConcurrentCalls int
	SessionIdleTimeout time.Duration

	// Logging
	LogLevel logrus.Level

	// AMQP configuration
	AMQPUrl      string
	AMQPExchange string

	// Database configuration
	DatabaseDSN     string
	DatabaseEnabled bool
}

// LoadConfig loads the application configuration from environment variables
func LoadConfig(logger *logrus.Logger) (*Configuration, error) {
	// A missing .env file is fine in containerized deployments; env vars win either way
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, relying on process environment")
	}

	config := &Configuration{}

	config.HTTPPort = getEnvInt("HTTP_PORT", 8080)
	config.HTTPEnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)

	// Load vendors
	vendorsEnv := os.Getenv("SUPPORTED_VENDORS")
	if vendorsEnv == "" {
		config.SupportedVendors = []string{"deepgram"}
		logger.Info("No SUPPORTED_VENDORS specified, defaulting to deepgram")
	} else {
		config.SupportedVendors = strings.Split(vendorsEnv, ",")
	}

	config.DefaultVendor = os.Getenv("DEFAULT_SPEECH_VENDOR")
	if config.DefaultVendor == "" {
		config.DefaultVendor = config.SupportedVendors[0]
	}

	// Telephony media streams carry 8kHz mu-law audio
	config.SampleRate = getEnvInt("STT_SAMPLE_RATE", 8000)
	config.AudioEncoding = getEnvString("STT_ENCODING", "mulaw")
	config.EndpointingMs = getEnvInt("STT_ENDPOINTING_MS", 1000)
	config.InterimResults = getEnvBool("STT_INTERIM_RESULTS", true)

	config.TipMinInterval = getEnvDuration("TIP_MIN_INTERVAL", 15*time.Second)
	config.LLMModel = getEnvString("LLM_MODEL", "gpt-4o-mini")
	config.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 20*time.Second)
	config.ShortCallThreshold = getEnvDuration("RECONCILE_SHORT_CALL_THRESHOLD", 10*time.Minute)
	config.ReconciliationWindow = getEnvDuration("RECONCILE_WINDOW", 5*time.Minute)
	config.ReconciliationSlack = getEnvDuration("RECONCILE_SLACK", 30*time.Second)

	config.MaxConcurrentCalls = getEnvInt("MAX_CONCURRENT_CALLS", 500)
	config.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)

	// Load log level
	logLevelEnv := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch logLevelEnv {
	case "debug":
		config.LogLevel = logrus.DebugLevel
	case "warn", "warning":
		config.LogLevel = logrus.WarnLevel
	case "error":
		config.LogLevel = logrus.ErrorLevel
	case "", "info":
		config.LogLevel = logrus.InfoLevel
	default:
		logger.WithField("log_level", logLevelEnv).Warn("Unknown LOG_LEVEL, defaulting to info")
		config.LogLevel = logrus.InfoLevel
	}

	config.AMQPUrl = os.Getenv("AMQP_URL")
	config.AMQPExchange = getEnvString("AMQP_EXCHANGE", "livecoach.events")

	config.DatabaseDSN = os.Getenv("DATABASE_DSN")
	config.DatabaseEnabled = config.DatabaseDSN != ""

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"http_port":        config.HTTPPort,
		"default_vendor":   config.DefaultVendor,
		"tip_min_interval": config.TipMinInterval,
		"amqp_enabled":     config.AMQPUrl != "",
		"db_enabled":       config.DatabaseEnabled,
	}).Info("Configuration loaded")

	return config, nil
}

// Validate checks the configuration for invalid combinations
func (c *Configuration) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d", c.HTTPPort)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid STT_SAMPLE_RATE: %d", c.SampleRate)
	}
	if c.TipMinInterval < 0 {
		return fmt.Errorf("TIP_MIN_INTERVAL must not be negative")
	}
	if c.ReconciliationWindow <= 0 {
		return fmt.Errorf("RECONCILE_WINDOW must be positive")
	}
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_CALLS must be positive")
	}
	if len(c.SupportedVendors) == 0 {
		return fmt.Errorf("at least one speech vendor must be configured")
	}
	found := false
	for _, v := range c.SupportedVendors {
		if strings.TrimSpace(v) == c.DefaultVendor {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default vendor %q is not in SUPPORTED_VENDORS", c.DefaultVendor)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
