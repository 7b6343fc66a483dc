package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Port            string        // FORTROCK_PORT (default "8090")
	DBPath          string        // FORTROCK_DB_PATH (default "fortrock.db")
	BaseURL         string        // FORTROCK_BASE_URL (default http://localhost:<port>)
	Env             string        // FORTROCK_ENV (production or development)
	LogLevel        string        // FORTROCK_LOG_LEVEL
	LogFormat       string        // FORTROCK_LOG_FORMAT (text or json)
	ProvisionPortal bool          // FORTROCK_PROVISION_PORTAL (default true)
	LookupTimeout   time.Duration // FORTROCK_LOOKUP_TIMEOUT (default 2s)
	TokenSecret     string        // FORTROCK_TOKEN_SECRET (required in production)

	PostmarkToken string // FORTROCK_POSTMARK_TOKEN (optional, empty = links are logged)
	FromEmail     string // FORTROCK_FROM_EMAIL

	GoogleClientID     string // FORTROCK_GOOGLE_CLIENT_ID (optional, empty = Google sign-in disabled)
	GoogleClientSecret string // FORTROCK_GOOGLE_CLIENT_SECRET
}

// devTokenSecret signs tokens in development when no secret is configured.
const devTokenSecret = "fortrock-development-secret"

func Load() (*Config, error) {
	c := &Config{
		Port:               envOrDefault("FORTROCK_PORT", "8090"),
		DBPath:             envOrDefault("FORTROCK_DB_PATH", "fortrock.db"),
		Env:                strings.ToLower(envOrDefault("FORTROCK_ENV", EnvProduction)),
		LogLevel:           os.Getenv("FORTROCK_LOG_LEVEL"),
		LogFormat:          strings.ToLower(envOrDefault("FORTROCK_LOG_FORMAT", "text")),
		TokenSecret:        os.Getenv("FORTROCK_TOKEN_SECRET"),
		PostmarkToken:      os.Getenv("FORTROCK_POSTMARK_TOKEN"),
		FromEmail:          envOrDefault("FORTROCK_FROM_EMAIL", "noreply@fortrock.capital"),
		GoogleClientID:     os.Getenv("FORTROCK_GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("FORTROCK_GOOGLE_CLIENT_SECRET"),
	}
	c.BaseURL = strings.TrimRight(envOrDefault("FORTROCK_BASE_URL", "http://localhost:"+c.Port), "/")

	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return nil, fmt.Errorf("FORTROCK_ENV: unknown environment %q", c.Env)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return nil, fmt.Errorf("FORTROCK_LOG_FORMAT: unknown format %q", c.LogFormat)
	}

	provision, err := strconv.ParseBool(envOrDefault("FORTROCK_PROVISION_PORTAL", "true"))
	if err != nil {
		return nil, fmt.Errorf("FORTROCK_PROVISION_PORTAL: %w", err)
	}
	c.ProvisionPortal = provision

	c.LookupTimeout, err = time.ParseDuration(envOrDefault("FORTROCK_LOOKUP_TIMEOUT", "2s"))
	if err != nil {
		return nil, fmt.Errorf("FORTROCK_LOOKUP_TIMEOUT: %w", err)
	}
	if c.LookupTimeout <= 0 {
		return nil, errors.New("FORTROCK_LOOKUP_TIMEOUT must be positive")
	}

	if c.TokenSecret == "" {
		if !c.DevMode() {
			return nil, errors.New("FORTROCK_TOKEN_SECRET is required in production")
		}
		c.TokenSecret = devTokenSecret
	}
	if c.GoogleClientID != "" && c.GoogleClientSecret == "" {
		return nil, errors.New("FORTROCK_GOOGLE_CLIENT_SECRET is required when FORTROCK_GOOGLE_CLIENT_ID is set")
	}

	return c, nil
}

// DevMode reports whether email confirmation is bypassed.
func (c *Config) DevMode() bool {
	return c.Env == EnvDevelopment
}

func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
