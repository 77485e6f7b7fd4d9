package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/crispab/codekvast-dashboard/internal/poll"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultMetricsAddr  = ":9090"
	defaultPollInterval = 60 * time.Second
	defaultQueryTimeout = 30 * time.Second
)

var validate = validator.New()

// Config is the validated service configuration derived from environment
// variables.
type Config struct {
	WarehouseURL     string `validate:"omitempty,url"`
	HTTPAddr         string `validate:"required"`
	MetricsAddr      string
	AuthCookieSecure bool
	PollInterval     time.Duration
	QueryTimeout     time.Duration `validate:"min=1s"`
}

// LoadOptions controls which settings are mandatory.
type LoadOptions struct {
	RequireWarehouseURL bool
}

// Load reads configuration for the serve command, which needs a warehouse
// endpoint.
func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireWarehouseURL: true})
}

// LoadWithOptions reads a .env file when present, then the environment.
func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		WarehouseURL:     strings.TrimRight(os.Getenv("WAREHOUSE_URL"), "/"),
		HTTPAddr:         getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:      getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		AuthCookieSecure: getenvBoolDefault("AUTH_COOKIE_SECURE", false),
		PollInterval:     defaultPollInterval,
		QueryTimeout:     defaultQueryTimeout,
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	// The request-rate bound applies at the point of configuration, like any
	// other interval change.
	cfg.PollInterval = poll.ClampInterval(cfg.PollInterval)

	if v := os.Getenv("QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("QUERY_TIMEOUT: %w", err)
		}
		cfg.QueryTimeout = d
	}

	if opts.RequireWarehouseURL && cfg.WarehouseURL == "" {
		return cfg, errors.New("WAREHOUSE_URL is required")
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}
