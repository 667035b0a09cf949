package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "JOBBOARD"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "jobboard.db"
	defaultLogLevel       = "info"
	defaultProjectID      = "storagede"
	defaultCacheDriver    = CacheDriverSQLite
	defaultCacheNamespace = "default"
	defaultTokenTTL       = 60
	defaultPollIntervalMS = 1000
)

// Cache drivers.
const (
	CacheDriverSQLite = "sqlite"
	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"
)

// AppConfig captures runtime configuration for the job board server and CLI.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	ProjectID          string
	StorePollInterval  time.Duration
	CacheDriver        string
	CacheRedisURL      string
	CacheNamespace     string
	AdminSigningSecret string
	AdminTokenTTL      time.Duration
	CORSAllowedOrigins []string
}

// AdminAuthEnabled reports whether the server enforces admin tokens on privileged routes.
func (c AppConfig) AdminAuthEnabled() bool {
	return strings.TrimSpace(c.AdminSigningSecret) != ""
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
	configViper.SetDefault("http.cors_origins", []string{"*"})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("store.project_id", defaultProjectID)
	configViper.SetDefault("store.poll_interval_ms", defaultPollIntervalMS)
	configViper.SetDefault("cache.driver", defaultCacheDriver)
	configViper.SetDefault("cache.namespace", defaultCacheNamespace)
	configViper.SetDefault("admin.token_ttl_minutes", defaultTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		ProjectID:          strings.TrimSpace(configViper.GetString("store.project_id")),
		StorePollInterval:  time.Duration(configViper.GetInt("store.poll_interval_ms")) * time.Millisecond,
		CacheDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("cache.driver"))),
		CacheRedisURL:      strings.TrimSpace(configViper.GetString("cache.redis_url")),
		CacheNamespace:     strings.TrimSpace(configViper.GetString("cache.namespace")),
		AdminSigningSecret: configViper.GetString("admin.signing_secret"),
		AdminTokenTTL:      time.Duration(configViper.GetInt("admin.token_ttl_minutes")) * time.Minute,
		CORSAllowedOrigins: configViper.GetStringSlice("http.cors_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("store.project_id is required")
	}
	if c.StorePollInterval <= 0 {
		return fmt.Errorf("store.poll_interval_ms must be positive")
	}
	switch c.CacheDriver {
	case CacheDriverSQLite, CacheDriverMemory:
	case CacheDriverRedis:
		if c.CacheRedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.driver is %s", CacheDriverRedis)
		}
	default:
		return fmt.Errorf("cache.driver %q is not supported", c.CacheDriver)
	}
	if c.CacheNamespace == "" {
		return fmt.Errorf("cache.namespace is required")
	}
	if c.AdminAuthEnabled() && c.AdminTokenTTL <= 0 {
		return fmt.Errorf("admin.token_ttl_minutes must be positive")
	}
	return nil
}
