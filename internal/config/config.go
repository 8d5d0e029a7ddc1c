// Package config loads service settings from a YAML file, a .env file and
// OFFERPAGE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "OFFERPAGE_"

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Geocoder GeocoderConfig `yaml:"geocoder" envPrefix:"GEOCODER_"`
	Dispatch DispatchConfig `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Offer    OfferConfig    `yaml:"offer" envPrefix:"OFFER_"`
	Campaign CampaignConfig `yaml:"campaign" envPrefix:"CAMPAIGN_"`
	SES      SESConfig      `yaml:"ses" envPrefix:"SES_"`
	SMS      SMSConfig      `yaml:"sms" envPrefix:"SMS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`

	// Experiments maps experiment names to variant sets. The first variant
	// is the control. File only.
	Experiments map[string][]string `yaml:"experiments"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" env:"HOST"`
	Port           int      `yaml:"port" env:"PORT"`
	Token          string   `yaml:"token" env:"TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`

	// SessionTTL expires the per-session keys written by /api/variant.
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the ab_tests store and the key-value backend.
// Driver is "sqlite" or "postgres". The kv backend is Redis when RedisURL
// is set and SQLite (in the same file as Path) otherwise.
type StorageConfig struct {
	Driver      string `yaml:"driver" env:"DRIVER"`
	Path        string `yaml:"path" env:"PATH"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	KVPrefix    string `yaml:"kv_prefix" env:"KV_PREFIX"`
}

type GeocoderConfig struct {
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	UserAgent   string        `yaml:"user_agent" env:"USER_AGENT"`
	MinInterval time.Duration `yaml:"min_interval" env:"MIN_INTERVAL"`
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
}

type DispatchConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	SuccessPause  time.Duration `yaml:"success_pause" env:"SUCCESS_PAUSE"`
	FailurePause  time.Duration `yaml:"failure_pause" env:"FAILURE_PAUSE"`
	ProbeURL      string        `yaml:"probe_url" env:"PROBE_URL"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
}

type OfferConfig struct {
	Currency  string `yaml:"currency" env:"CURRENCY"`
	Locale    string `yaml:"locale" env:"LOCALE"`
	ShortForm bool   `yaml:"short_form" env:"SHORT_FORM"`
}

type CampaignConfig struct {
	CompanyName string `yaml:"company_name" env:"COMPANY_NAME"`
	AgentName   string `yaml:"agent_name" env:"AGENT_NAME"`
}

type SESConfig struct {
	Region    string `yaml:"region" env:"REGION"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	From      string `yaml:"from" env:"FROM"`
	ReplyTo   string `yaml:"reply_to" env:"REPLY_TO"`
}

func (s SESConfig) Enabled() bool { return s.From != "" }

type SMSConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	Token    string `yaml:"token" env:"TOKEN"`
}

func (s SMSConfig) Enabled() bool { return s.Endpoint != "" }

type LogConfig struct {
	Level     string `yaml:"level" env:"LEVEL"`
	RedactPII *bool  `yaml:"redact_pii" env:"REDACT_PII"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path and applies defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads path, then a .env file in the working directory if one
// exists, then OFFERPAGE_* variables. Values already in the environment win
// over .env.
func LoadFromEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overlays OFFERPAGE_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 30 * 24 * time.Hour
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "offerpage.db"
	}

	if c.Geocoder.BaseURL == "" {
		c.Geocoder.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.Geocoder.UserAgent == "" {
		c.Geocoder.UserAgent = "offerpage/1.0"
	}
	if c.Geocoder.MinInterval == 0 {
		c.Geocoder.MinInterval = time.Second
	}
	if c.Geocoder.TTL == 0 {
		c.Geocoder.TTL = 30 * 24 * time.Hour
	}

	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.SuccessPause == 0 {
		c.Dispatch.SuccessPause = time.Second
	}
	if c.Dispatch.FailurePause == 0 {
		c.Dispatch.FailurePause = 3 * time.Second
	}
	if c.Dispatch.ProbeInterval == 0 {
		c.Dispatch.ProbeInterval = 30 * time.Second
	}

	if c.Offer.Currency == "" {
		c.Offer.Currency = "USD"
	}
	if c.Offer.Locale == "" {
		c.Offer.Locale = "en-US"
	}

	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.RedactPII == nil {
		redact := true
		c.Log.RedactPII = &redact
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, errors.New("dispatch.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
