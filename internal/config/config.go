// Package config loads gateway configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when neither a flag nor GATEWAY_CONFIG is set.
	DefaultConfigPath = "config.yaml"
	// ConfigPathEnv names the environment variable holding the config path.
	ConfigPathEnv = "GATEWAY_CONFIG"
)

// Environment overrides applied after the YAML file.
const (
	envDatabaseDSN   = "GATEWAY_DATABASE_DSN"
	envServerAddr    = "GATEWAY_SERVER_ADDR"
	envJWTSecret     = "GATEWAY_JWT_SECRET"
	envRedisAddr     = "GATEWAY_REDIS_ADDR"
	envRedisPassword = "GATEWAY_REDIS_PASSWORD"
	envRedisDB       = "GATEWAY_REDIS_DB"
	envLogLevel      = "GATEWAY_LOG_LEVEL"
)

// AppConfig carries process-level options resolved from the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the full gateway configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	JWT         JWTConfig         `yaml:"jwt"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// DatabaseConfig selects the store. Postgres and SQLite DSNs are both accepted.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // gin mode: debug, release or test
}

// JWTConfig configures bearer token signing.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RedisConfig enables cross-replica maintenance leases when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LeaseTTL time.Duration `yaml:"lease-ttl"`
}

// LoggingConfig configures logrus and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

// CatalogConfig points at the catalog seed file synced at startup.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// MaintenanceConfig toggles the in-process scheduler.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used for omitted keys.
func Default() Config {
	return Config{
		Database: DatabaseConfig{DSN: "data/gateway.db"},
		Server:   ServerConfig{Addr: ":8318", Mode: "release"},
		JWT:      JWTConfig{Expiry: 24 * time.Hour},
		Redis:    RedisConfig{Prefix: "gateway:lease:", LeaseTTL: 30 * time.Second},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Maintenance: MaintenanceConfig{Enabled: true},
	}
}

// ResolveConfigPath returns the explicit path, GATEWAY_CONFIG, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// ConfigExists reports whether a config file exists at path.
func ConfigExists(path string) bool {
	info, errStat := os.Stat(path)
	return errStat == nil && !info.IsDir()
}

// Load reads the YAML file at path on top of Default, then applies .env and
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if errEnv := godotenv.Load(); errEnv != nil && !errors.Is(errEnv, os.ErrNotExist) {
		log.WithError(errEnv).Warn("config: failed to load .env")
	}

	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
		log.Infof("config: %s not found, using defaults and environment", path)
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	if errEnv := applyEnv(&cfg); errEnv != nil {
		return Config{}, errEnv
	}
	return cfg, nil
}

// LoadDatabaseDSN returns the resolved database DSN.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, errLoad := Load(path)
	if errLoad != nil {
		return "", errLoad
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return "", errors.New("config: database.dsn is empty")
	}
	return dsn, nil
}

// LoadJWTConfig returns the resolved JWT settings.
func LoadJWTConfig(path string) (JWTConfig, error) {
	cfg, errLoad := Load(path)
	if errLoad != nil {
		return JWTConfig{}, errLoad
	}
	return cfg.JWT, cfg.ValidateJWT()
}

// ValidateJWT checks that tokens can be signed and verified.
func (c Config) ValidateJWT() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt.secret is required")
	}
	if c.JWT.Expiry <= 0 {
		return fmt.Errorf("config: invalid jwt.expiry %s", c.JWT.Expiry)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	setString(envDatabaseDSN, &cfg.Database.DSN)
	setString(envServerAddr, &cfg.Server.Addr)
	setString(envJWTSecret, &cfg.JWT.Secret)
	setString(envRedisAddr, &cfg.Redis.Addr)
	setString(envRedisPassword, &cfg.Redis.Password)
	setString(envLogLevel, &cfg.Logging.Level)

	if raw, ok := os.LookupEnv(envRedisDB); ok && strings.TrimSpace(raw) != "" {
		db, errAtoi := strconv.Atoi(strings.TrimSpace(raw))
		if errAtoi != nil {
			return fmt.Errorf("config: invalid %s: %w", envRedisDB, errAtoi)
		}
		cfg.Redis.DB = db
	}
	return nil
}
