// Package config provides configuration for the negotiator.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the negotiator configuration.
type Config struct {
	// Server settings
	HTTPPort      int
	PublicBaseURL string

	// Database
	DatabaseURL string

	// AI gateway settings
	AIGatewayURL      string
	AIGatewayAPIKey   string
	AIModel           string
	ClassifierTimeout time.Duration
	Mode              string

	// Auth and policy
	APIKey     string // Static API key for hello.api_key and X-API-Key validation
	PolicyFile string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

var defaults = map[string]interface{}{
	"http_port":             8080,
	"public_base_url":       "http://localhost:8080",
	"database_url":          "file:negotiator.db?cache=shared&mode=rwc",
	"ai_gateway_url":        "https://ai.gateway.lovable.dev/v1",
	"ai_gateway_api_key":    "",
	"ai_model":              "google/gemini-3-flash-preview",
	"classifier_timeout_ms": 30000,
	"negotiator_mode":       "",
	"api_key":               "",
	"policy_file":           "",
	"ws_ping_interval_ms":   30000,
	"ws_write_timeout_ms":   10000,
	"ws_read_timeout_ms":    60000,
	"ws_max_message_size":   65536,
	"log_level":             "info",
}

// Load loads configuration from defaults, an optional negotiator.yaml in
// the working directory, and environment variables, in increasing priority.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetConfigName("negotiator")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with. Non-numeric values
// read as zero, so they are caught here too.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port must be in 1..65535, got %d", c.HTTPPort))
	}
	durations := []struct {
		key string
		val time.Duration
	}{
		{"classifier_timeout_ms", c.ClassifierTimeout},
		{"ws_ping_interval_ms", c.PingInterval},
		{"ws_write_timeout_ms", c.WriteTimeout},
		{"ws_read_timeout_ms", c.ReadTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("ws_max_message_size must be positive, got %d", c.MaxMessageSize))
	}
	if c.PingInterval > 0 && c.ReadTimeout > 0 && c.PingInterval >= c.ReadTimeout {
		errs = append(errs, fmt.Errorf("ws_ping_interval_ms (%s) must be shorter than ws_read_timeout_ms (%s)", c.PingInterval, c.ReadTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		HTTPPort:          v.GetInt("http_port"),
		PublicBaseURL:     v.GetString("public_base_url"),
		DatabaseURL:       v.GetString("database_url"),
		AIGatewayURL:      v.GetString("ai_gateway_url"),
		AIGatewayAPIKey:   v.GetString("ai_gateway_api_key"),
		AIModel:           v.GetString("ai_model"),
		ClassifierTimeout: time.Duration(v.GetInt("classifier_timeout_ms")) * time.Millisecond,
		Mode:              v.GetString("negotiator_mode"),
		APIKey:            v.GetString("api_key"),
		PolicyFile:        v.GetString("policy_file"),
		PingInterval:      time.Duration(v.GetInt("ws_ping_interval_ms")) * time.Millisecond,
		WriteTimeout:      time.Duration(v.GetInt("ws_write_timeout_ms")) * time.Millisecond,
		ReadTimeout:       time.Duration(v.GetInt("ws_read_timeout_ms")) * time.Millisecond,
		MaxMessageSize:    v.GetInt64("ws_max_message_size"),
		LogLevel:          v.GetString("log_level"),
	}
}
