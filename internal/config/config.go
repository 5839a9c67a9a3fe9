package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "SCALOPS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "scalops.db"
	defaultLogLevel        = "info"
	defaultTokenTTLHours   = 24
	defaultAWSRegion       = "us-east-1"
	defaultGoogleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultClientOriginURL = "http://localhost:3000"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	SigningSecret  string
	TokenTTL       time.Duration
	DatabasePath   string
	LogLevel       string
	GoogleClientID string
	GoogleJWKSURL  string
	ClientOrigin   string
	AWSRegion      string
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
	configViper.SetDefault("token.ttl_hours", defaultTokenTTLHours)
	configViper.SetDefault("aws.region", defaultAWSRegion)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("client.origin", defaultClientOriginURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_hours")) * time.Hour,
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),
		ClientOrigin:   configViper.GetString("client.origin"),
		AWSRegion:      configViper.GetString("aws.region"),
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
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_hours must be positive")
	}
	if strings.TrimSpace(c.AWSRegion) == "" {
		return fmt.Errorf("aws.region is required")
	}
	return nil
}
