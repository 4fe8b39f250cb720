package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BACKEND_URL", "SOCKET_URL", "API_TOKEN", "HTTP_TIMEOUT",
		"USER_ID", "HEARTBEAT_INTERVAL", "CARE_DELAY_MS", "HISTORY_TIMEOUT", "DAILY_CARE_ENABLED", "GREETING_ENABLED",
		"STORAGE_DRIVER", "STORAGE_PATH", "REDIS_ADDR", "REDIS_PREFIX",
		"LOG_LEVEL", "LOG_FILE", "PORT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:8080/" {
		t.Fatalf("unexpected base url %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.SocketURL != "ws://localhost:8080/lovers/chat" {
		t.Fatalf("unexpected socket url %s", cfg.Backend.SocketURL)
	}
	if cfg.Session.HeartbeatInterval != 30*time.Second {
		t.Fatalf("unexpected heartbeat %s", cfg.Session.HeartbeatInterval)
	}
	if cfg.Session.CareDelay != 3*time.Second {
		t.Fatalf("unexpected care delay %s", cfg.Session.CareDelay)
	}
	if !cfg.Session.DailyCare {
		t.Fatal("daily care should default to enabled")
	}
	if !cfg.Session.Greeting {
		t.Fatal("greeting should default to enabled")
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Fatalf("unexpected driver %s", cfg.Storage.Driver)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
}

func TestLoadDerivesSecureSocketURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_URL", "https://api.example.com/v1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.com/v1/" {
		t.Fatalf("unexpected base url %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.SocketURL != "wss://api.example.com/v1/lovers/chat" {
		t.Fatalf("unexpected socket url %s", cfg.Backend.SocketURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"STORAGE_DRIVER":     "mongo",
		"HEARTBEAT_INTERVAL": "soon",
		"DAILY_CARE_ENABLED": "maybe",
		"PORT":               "80 80",
		"BACKEND_URL":        "ftp://example.com",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadCareDelayOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARE_DELAY_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Session.CareDelay != 250*time.Millisecond {
		t.Fatalf("unexpected care delay %s", cfg.Session.CareDelay)
	}
}
