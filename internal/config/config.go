package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "VIBERETRO"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "viberetro.db"
	defaultLogLevel         = "info"
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultRetentionHours   = 72
	defaultPurgeIntervalMin = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	PublicBaseURL    string
	SessionRetention time.Duration
	PurgeInterval    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.retention_hours", defaultRetentionHours)
	configViper.SetDefault("session.purge_interval_minutes", defaultPurgeIntervalMin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		PublicBaseURL:    configViper.GetString("http.public_base_url"),
		SessionRetention: time.Duration(configViper.GetInt("session.retention_hours")) * time.Hour,
		PurgeInterval:    time.Duration(configViper.GetInt("session.purge_interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SessionRetention <= 0 {
		return fmt.Errorf("session.retention_hours must be positive")
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("session.purge_interval_minutes must be positive")
	}
	return nil
}
