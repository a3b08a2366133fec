package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "FOODVOTER"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "foodvoter.db"
	defaultLogLevel            = "info"
	defaultSearchBaseURL       = "https://api.yelp.com/v3"
	defaultSearchRate          = 4.0
	defaultTokenTTLMinutes     = 720
	defaultHeartbeatTTLSeconds = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SigningSecret     string
	TokenTTL          time.Duration
	SearchBaseURL     string
	SearchAPIKey      string
	SearchRequestRate float64
	HeartbeatTTL      time.Duration
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("search.base_url", defaultSearchBaseURL)
	configViper.SetDefault("search.requests_per_second", defaultSearchRate)
	configViper.SetDefault("presence.heartbeat_ttl_seconds", defaultHeartbeatTTLSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		SearchBaseURL:     configViper.GetString("search.base_url"),
		SearchAPIKey:      configViper.GetString("search.api_key"),
		SearchRequestRate: configViper.GetFloat64("search.requests_per_second"),
		HeartbeatTTL:      time.Duration(configViper.GetInt("presence.heartbeat_ttl_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SearchBaseURL) == "" {
		return fmt.Errorf("search.base_url is required")
	}
	return nil
}
