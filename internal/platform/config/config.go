package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// Run modes accepted by RUN_MODE.
const (
	RunModeSchedule = "schedule"
	RunModeOnce     = "once"
)

// Config holds runtime configuration values for the posting bot.
type Config struct {
	DBPath      string `validate:"required"`
	ServerPort  int    `validate:"gt=0,lt=65536"`
	LogLevel    string
	Environment string
	SentryDSN   string

	LLMEndpoint     string `validate:"omitempty,url"`
	LLMAPIKey       string `validate:"required"`
	LLMModels       []string
	LLMTemperature  float64 `validate:"gt=0,lte=2"`
	LLMMaxTokens    int64   `validate:"gt=0"`
	LLMSystemPrompt string

	CatalogPath    string
	PostMaxLength  int      `validate:"gt=0"`
	PostMaxRetries int      `validate:"gte=0"`
	PostTimes      []string `validate:"required_if=RunMode schedule,dive,datetime=15:04"`
	Timezone       string   `validate:"required,timezone"`
	RunMode        string   `validate:"oneof=schedule once"`
	DryRun         bool

	XAPIKey       string `validate:"required_if=DryRun false"`
	XAPISecret    string `validate:"required_if=DryRun false"`
	XAccessToken  string `validate:"required_if=DryRun false"`
	XAccessSecret string `validate:"required_if=DryRun false"`
	XEndpoint     string `validate:"omitempty,url"`

	AdminToken         string
	TrustProxyHeaders  bool
	RateLimitRPS       float64       `validate:"gt=0"`
	RateLimitBurst     int           `validate:"gt=0"`
	RateLimitClientTTL time.Duration `validate:"gt=0"`
	LeaseTTL           time.Duration `validate:"gt=0"`
	ShutdownGrace      time.Duration `validate:"gt=0"`
}

const (
	defaultDBPath             = "./data/postsmith.db"
	defaultServerPort         = 8080
	defaultLogLevel           = "info"
	defaultEnvironment        = "development"
	defaultLLMTemperature     = 0.7
	defaultLLMMaxTokens       = 100
	defaultPostMaxLength      = 280
	defaultPostMaxRetries     = 5
	defaultPostTimes          = "06:00,12:00,18:00,23:00"
	defaultTimezone           = "UTC"
	defaultRunMode            = RunModeSchedule
	defaultRateLimitRPS       = 1.0
	defaultRateLimitBurst     = 5
	defaultRateLimitClientTTL = 10 * time.Minute
	defaultLeaseTTL           = 5 * time.Minute
	defaultShutdownGrace      = 10 * time.Second
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration values from environment variables, applying defaults where
// necessary, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:          getEnv("DB_PATH", defaultDBPath),
		LogLevel:        getEnv("LOG_LEVEL", defaultLogLevel),
		Environment:     getEnv("ENV", defaultEnvironment),
		SentryDSN:       os.Getenv("SENTRY_DSN"),
		LLMEndpoint:     os.Getenv("LLM_ENDPOINT"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMSystemPrompt: os.Getenv("LLM_SYSTEM_PROMPT"),
		CatalogPath:     os.Getenv("CATALOG_PATH"),
		Timezone:        getEnv("TIMEZONE", defaultTimezone),
		RunMode:         strings.ToLower(getEnv("RUN_MODE", defaultRunMode)),
		XAPIKey:         os.Getenv("X_API_KEY"),
		XAPISecret:      os.Getenv("X_API_SECRET"),
		XAccessToken:    os.Getenv("X_ACCESS_TOKEN"),
		XAccessSecret:   os.Getenv("X_ACCESS_SECRET"),
		XEndpoint:       os.Getenv("X_ENDPOINT"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
	}

	if modelsJSON := os.Getenv("LLM_MODELS"); modelsJSON != "" {
		models, err := parseModels(modelsJSON)
		if err != nil {
			return nil, eris.Wrap(err, "parsing LLM_MODELS")
		}
		cfg.LLMModels = models
	}

	postTimes, err := parsePostTimes(getEnv("POST_TIMES", defaultPostTimes))
	if err != nil {
		return nil, eris.Wrap(err, "parsing POST_TIMES")
	}
	cfg.PostTimes = postTimes

	if cfg.ServerPort, err = intEnv("SERVER_PORT", defaultServerPort); err != nil {
		return nil, err
	}
	if cfg.PostMaxLength, err = intEnv("POST_MAX_LENGTH", defaultPostMaxLength); err != nil {
		return nil, err
	}
	if cfg.PostMaxRetries, err = intEnv("POST_MAX_RETRIES", defaultPostMaxRetries); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", defaultRateLimitBurst); err != nil {
		return nil, err
	}

	maxTokens, err := intEnv("LLM_MAX_TOKENS", defaultLLMMaxTokens)
	if err != nil {
		return nil, err
	}
	cfg.LLMMaxTokens = int64(maxTokens)

	if cfg.LLMTemperature, err = floatEnv("LLM_TEMPERATURE", defaultLLMTemperature); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = floatEnv("RATE_LIMIT_RPS", defaultRateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = boolEnv("DRY_RUN", false); err != nil {
		return nil, err
	}
	if cfg.TrustProxyHeaders, err = boolEnv("TRUST_PROXY_HEADERS", false); err != nil {
		return nil, err
	}
	if cfg.RateLimitClientTTL, err = durationEnv("RATE_LIMIT_CLIENT_TTL", defaultRateLimitClientTTL); err != nil {
		return nil, err
	}
	if cfg.LeaseTTL, err = durationEnv("LEASE_TTL", defaultLeaseTTL); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = durationEnv("SHUTDOWN_GRACE", defaultShutdownGrace); err != nil {
		return nil, err
	}

	if err := configValidator.Struct(cfg); err != nil {
		return nil, eris.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "loading time zone %s", c.Timezone)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := getEnv(key, strconv.Itoa(fallback))
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func parseModels(raw string) ([]string, error) {
	// Accept either a JSON array of strings or an object with a `models` field.
	var arrayInput []string
	if err := json.Unmarshal([]byte(raw), &arrayInput); err == nil {
		return arrayInput, nil
	}

	var objectInput struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal([]byte(raw), &objectInput); err != nil {
		return nil, eris.Wrap(err, "decoding JSON")
	}

	if len(objectInput.Models) == 0 {
		return nil, eris.New("models list is empty")
	}

	return objectInput.Models, nil
}

// parsePostTimes accepts a JSON array or a comma separated list of HH:MM values.
func parsePostTimes(raw string) ([]string, error) {
	var values []string
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, eris.Wrap(err, "decoding JSON")
		}
	} else {
		values = strings.Split(raw, ",")
	}

	times := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			times = append(times, trimmed)
		}
	}
	if len(times) == 0 {
		return nil, nil
	}

	return times, nil
}
