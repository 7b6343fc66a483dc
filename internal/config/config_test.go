package config

import (
	"testing"
	"time"
)

var allEnvVars = []string{
	"FORTROCK_PORT", "FORTROCK_DB_PATH", "FORTROCK_BASE_URL", "FORTROCK_ENV",
	"FORTROCK_LOG_LEVEL", "FORTROCK_LOG_FORMAT", "FORTROCK_PROVISION_PORTAL",
	"FORTROCK_LOOKUP_TIMEOUT", "FORTROCK_TOKEN_SECRET", "FORTROCK_POSTMARK_TOKEN",
	"FORTROCK_FROM_EMAIL", "FORTROCK_GOOGLE_CLIENT_ID", "FORTROCK_GOOGLE_CLIENT_SECRET",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("FORTROCK_TOKEN_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8090")
	}
	if cfg.BaseURL != "http://localhost:8090" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.DevMode() {
		t.Error("expected production by default")
	}
	if !cfg.ProvisionPortal {
		t.Error("expected portal provisioned by default")
	}
	if cfg.LookupTimeout != 2*time.Second {
		t.Errorf("LookupTimeout = %v, want 2s", cfg.LookupTimeout)
	}
	if cfg.GoogleEnabled() {
		t.Error("expected Google sign-in disabled")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name:    "MissingSecretInProduction",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "DevelopmentDefaultsSecret",
			env:  map[string]string{"FORTROCK_ENV": "development"},
			check: func(t *testing.T, c *Config) {
				if !c.DevMode() {
					t.Error("expected dev mode")
				}
				if c.TokenSecret == "" {
					t.Error("expected a development token secret")
				}
			},
		},
		{
			name:    "UnknownEnv",
			env:     map[string]string{"FORTROCK_ENV": "staging", "FORTROCK_TOKEN_SECRET": "x"},
			wantErr: true,
		},
		{
			name:    "BadLogFormat",
			env:     map[string]string{"FORTROCK_LOG_FORMAT": "xml", "FORTROCK_TOKEN_SECRET": "x"},
			wantErr: true,
		},
		{
			name: "UnprovisionedPortal",
			env:  map[string]string{"FORTROCK_PROVISION_PORTAL": "false", "FORTROCK_TOKEN_SECRET": "x"},
			check: func(t *testing.T, c *Config) {
				if c.ProvisionPortal {
					t.Error("expected ProvisionPortal = false")
				}
			},
		},
		{
			name:    "BadProvisionFlag",
			env:     map[string]string{"FORTROCK_PROVISION_PORTAL": "maybe", "FORTROCK_TOKEN_SECRET": "x"},
			wantErr: true,
		},
		{
			name: "CustomTimeout",
			env:  map[string]string{"FORTROCK_LOOKUP_TIMEOUT": "500ms", "FORTROCK_TOKEN_SECRET": "x"},
			check: func(t *testing.T, c *Config) {
				if c.LookupTimeout != 500*time.Millisecond {
					t.Errorf("LookupTimeout = %v", c.LookupTimeout)
				}
			},
		},
		{
			name:    "NegativeTimeout",
			env:     map[string]string{"FORTROCK_LOOKUP_TIMEOUT": "-1s", "FORTROCK_TOKEN_SECRET": "x"},
			wantErr: true,
		},
		{
			name:    "GoogleWithoutSecret",
			env:     map[string]string{"FORTROCK_GOOGLE_CLIENT_ID": "id", "FORTROCK_TOKEN_SECRET": "x"},
			wantErr: true,
		},
		{
			name: "BaseURLTrailingSlash",
			env:  map[string]string{"FORTROCK_BASE_URL": "https://fortrock.capital/", "FORTROCK_TOKEN_SECRET": "x"},
			check: func(t *testing.T, c *Config) {
				if c.BaseURL != "https://fortrock.capital" {
					t.Errorf("BaseURL = %q", c.BaseURL)
				}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.check != nil {
				tc.check(t, cfg)
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("FORTROCK_TEST_KEY", "")
	if got := envOrDefault("FORTROCK_TEST_KEY", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
	t.Setenv("FORTROCK_TEST_KEY", "set")
	if got := envOrDefault("FORTROCK_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("got %q, want set", got)
	}
}
