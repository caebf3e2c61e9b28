package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TitleNumberPlaceholder is substituted with the title number in UI URLs.
const TitleNumberPlaceholder = "%titleNumber%"

// Config holds all application configuration loaded from environment variables.
// It is built once at startup and treated as immutable afterwards.
type Config struct {
	LogLevel    string
	MetricsAddr string

	// Ledger connection (the update feed and identity lookup)
	LedgerHost     string
	LedgerPort     string
	LedgerUsername string
	LedgerPassword string
	LedgerStream   string

	// Case management API
	CaseManagementURL string
	CaseAPITimeout    time.Duration

	// SMS provider
	TwilioAPIURL      string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	TwilioIsTrial     bool
	SMSTimeout        time.Duration
	SMSRatePerSecond  float64

	// Outbound links embedded in notifications
	UIURLAgreementSign    string
	UIURLTitleTransferred string

	// Transport retry
	RetryMaxAttempts int

	// Outcome journal; empty disables it
	DatabaseURL string

	// Temporal configuration (manual resend workflow)
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// LedgerURL returns the NATS URL of the ledger feed.
func (c *Config) LedgerURL() string {
	return fmt.Sprintf("nats://%s:%s", c.LedgerHost, c.LedgerPort)
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error listing every missing or invalid value.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	required := []struct {
		key string
		dst *string
	}{
		{"CONFIG_RPC_HOST", &cfg.LedgerHost},
		{"CONFIG_RPC_PORT", &cfg.LedgerPort},
		{"CONFIG_RPC_USERNAME", &cfg.LedgerUsername},
		{"CONFIG_RPC_PASSWORD", &cfg.LedgerPassword},
		{"CASE_MANAGEMENT_API_URL", &cfg.CaseManagementURL},
		{"TWILIO_ACCOUNT_SID", &cfg.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", &cfg.TwilioPhoneNumber},
		{"UI_URL_AGREEMENT_SIGN", &cfg.UIURLAgreementSign},
		{"UI_URL_TITLE_TRANSFERRED", &cfg.UIURLTitleTransferred},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.key)
		if *r.dst == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}

	cfg.LedgerStream = getEnvOrDefault("LEDGER_STREAM", "LEDGER")
	cfg.TwilioAPIURL = strings.TrimSuffix(getEnvOrDefault("TWILIO_API_URL", "https://api.twilio.com"), "/")
	cfg.CaseManagementURL = strings.TrimSuffix(cfg.CaseManagementURL, "/")
	cfg.TwilioIsTrial = ParseTrialFlag(os.Getenv("TWILIO_IS_TRIAL"))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "titlewatch-resend")

	smsTimeout, err := parseDuration("SMS_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SMSTimeout = smsTimeout
	}

	caseTimeout, err := parseDuration("CASE_API_TIMEOUT", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CaseAPITimeout = caseTimeout
	}

	attempts, err := parseInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RetryMaxAttempts = attempts
	}

	rps, err := parseFloat("SMS_RATE_PER_SECOND", 1)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SMSRatePerSecond = rps
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for process initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.LedgerHost == "" || c.LedgerPort == "" {
		errs = append(errs, fmt.Errorf("LedgerHost and LedgerPort are required"))
	}

	if c.CaseManagementURL == "" {
		errs = append(errs, fmt.Errorf("CaseManagementURL is required"))
	}

	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioPhoneNumber == "" {
		errs = append(errs, fmt.Errorf("TwilioAccountSID, TwilioAuthToken and TwilioPhoneNumber are required"))
	}

	if !strings.Contains(c.UIURLAgreementSign, TitleNumberPlaceholder) {
		errs = append(errs, fmt.Errorf("UIURLAgreementSign must contain %s", TitleNumberPlaceholder))
	}

	if !strings.Contains(c.UIURLTitleTransferred, TitleNumberPlaceholder) {
		errs = append(errs, fmt.Errorf("UIURLTitleTransferred must contain %s", TitleNumberPlaceholder))
	}

	if c.SMSTimeout <= 0 || c.CaseAPITimeout <= 0 {
		errs = append(errs, fmt.Errorf("SMSTimeout and CaseAPITimeout must be positive"))
	}

	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RetryMaxAttempts must be at least 1"))
	}

	if c.SMSRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("SMSRatePerSecond must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ParseTrialFlag interprets TWILIO_IS_TRIAL. Only 1, true, yes and y
// (any case) enable trial mode.
func ParseTrialFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
