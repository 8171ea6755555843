package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "GYMGATE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "gymgate.db"
	defaultRedisAddress    = "127.0.0.1:6379"
	defaultRedisDB         = 0
	defaultLogLevel        = "info"
	defaultDeviceLiveness  = 5 * time.Minute
	defaultStoreTimeout    = 5 * time.Second
	defaultTokenTTLMinutes = 720
	defaultEventLogCap     = 1000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	RedisAddress   string
	RedisDB        int
	SigningSecret  string
	LogLevel       string
	DeviceLiveness time.Duration
	StoreTimeout   time.Duration
	TokenTTL       time.Duration
	EventLogCap    int
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
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", defaultRedisDB)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("device.liveness_minutes", int(defaultDeviceLiveness.Minutes()))
	configViper.SetDefault("store.timeout_seconds", int(defaultStoreTimeout.Seconds()))
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("access.event_log_cap", defaultEventLogCap)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		RedisAddress:   configViper.GetString("redis.address"),
		RedisDB:        configViper.GetInt("redis.db"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		LogLevel:       configViper.GetString("log.level"),
		DeviceLiveness: time.Duration(configViper.GetInt("device.liveness_minutes")) * time.Minute,
		StoreTimeout:   time.Duration(configViper.GetInt("store.timeout_seconds")) * time.Second,
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		EventLogCap:    configViper.GetInt("access.event_log_cap"),
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
	if strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.DeviceLiveness <= 0 {
		return fmt.Errorf("device.liveness_minutes must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store.timeout_seconds must be positive")
	}
	if c.EventLogCap <= 0 {
		return fmt.Errorf("access.event_log_cap must be positive")
	}
	return nil
}
