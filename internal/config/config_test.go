package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("http address = %q, want 0.0.0.0:8080", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "viberetro.db" {
		t.Fatalf("database path = %q, want viberetro.db", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.SessionRetention != 72*time.Hour {
		t.Fatalf("retention = %s, want 72h", cfg.SessionRetention)
	}
	if cfg.PurgeInterval != 60*time.Minute {
		t.Fatalf("purge interval = %s, want 60m", cfg.PurgeInterval)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("VIBERETRO_HTTP_ADDRESS", "127.0.0.1:9999")
	t.Setenv("VIBERETRO_SESSION_RETENTION_HOURS", "6")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" {
		t.Fatalf("http address = %q, want the env override", cfg.HTTPAddress)
	}
	if cfg.SessionRetention != 6*time.Hour {
		t.Fatalf("retention = %s, want 6h", cfg.SessionRetention)
	}
}

func TestLoadRejectsNonPositiveRetention(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.retention_hours", 0)

	if _, err := Load(configViper); err == nil {
		t.Fatalf("zero retention accepted")
	}
}

func TestLoadRejectsBlankDatabasePath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.path", "   ")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("blank database path accepted")
	}
}
