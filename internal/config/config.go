package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/socialpulse/socialpulse/internal/cloudsql"
)

// Config represents runtime configuration derived from environment variables
// and an optional YAML file.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Instagram InstagramConfig
	Security  SecurityConfig
	Auth      AuthConfig
	App       AppConfig
	Sync      SyncConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver         string // postgres or sqlite
	URL            string
	SQLitePath     string
	MaxConnections int
}

// InstagramConfig holds the OAuth application registration.
type InstagramConfig struct {
	AppID       string
	AppSecret   string
	RedirectURI string
}

// SecurityConfig holds the token encryption secret.
type SecurityConfig struct {
	EncryptionKey string
}

// AuthConfig holds the session token verification secret.
type AuthConfig struct {
	JWTSecret string
}

// AppConfig holds settings for the browser-facing application.
type AppConfig struct {
	BaseURL string
}

// SyncConfig controls the background analytics refresh. A zero Interval
// disables the scheduler.
type SyncConfig struct {
	Interval           time.Duration
	TokenRefreshWindow time.Duration
	// ActivityRetention bounds the account history; zero keeps it forever.
	ActivityRetention time.Duration
}

// ConfigurationError reports required settings that were not provided.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultDatabaseDriver = "postgres"
	defaultSQLitePath     = "socialpulse.db"
	defaultMaxConnections = 25

	defaultAppBaseURL         = "http://localhost:3000"
	defaultTokenRefreshWindow = 7 * 24 * time.Hour
	defaultActivityRetention  = 90 * 24 * time.Hour
)

// fileConfig mirrors the subset of settings accepted from CONFIG_FILE.
type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Database struct {
		Driver     string `yaml:"driver"`
		URL        string `yaml:"url"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Instagram struct {
		AppID       string `yaml:"app_id"`
		AppSecret   string `yaml:"app_secret"`
		RedirectURI string `yaml:"redirect_uri"`
	} `yaml:"instagram"`
	App struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`
	Sync struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"sync"`
}

// Load reads configuration from environment variables, applying defaults when
// values are not provided. When CONFIG_FILE is set, its values are used as the
// base and environment variables take precedence.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:            defaultPort,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			Driver:         defaultDatabaseDriver,
			SQLitePath:     defaultSQLitePath,
			MaxConnections: defaultMaxConnections,
		},
		App: AppConfig{
			BaseURL: defaultAppBaseURL,
		},
		Sync: SyncConfig{
			TokenRefreshWindow: defaultTokenRefreshWindow,
			ActivityRetention:  defaultActivityRetention,
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Port = port
	} else if port := getEnv("SERVER_PORT", ""); port != "" {
		cfg.Server.Port = port
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
	}

	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid DATABASE_DRIVER: must be 'postgres' or 'sqlite'")
	}
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
		if instance := cloudsql.FromEnv(); instance.Configured() {
			dbURL, err := instance.DatabaseURL()
			if err != nil {
				return Config{}, err
			}
			cfg.Database.URL = dbURL
		}
	}
	cfg.Database.SQLitePath = getEnv("SQLITE_PATH", cfg.Database.SQLitePath)
	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DATABASE_MAX_CONNECTIONS: must be a positive integer")
		}
		cfg.Database.MaxConnections = n
	}

	cfg.Instagram.AppID = getEnv("INSTAGRAM_APP_ID", cfg.Instagram.AppID)
	cfg.Instagram.AppSecret = getEnv("INSTAGRAM_APP_SECRET", cfg.Instagram.AppSecret)
	cfg.Instagram.RedirectURI = getEnv("INSTAGRAM_REDIRECT_URI", cfg.Instagram.RedirectURI)
	cfg.Security.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.Security.EncryptionKey)
	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.App.BaseURL = strings.TrimRight(getEnv("APP_BASE_URL", cfg.App.BaseURL), "/")

	if v := os.Getenv("ANALYTICS_SYNC_INTERVAL_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes < 0 {
			return Config{}, fmt.Errorf("invalid ANALYTICS_SYNC_INTERVAL_MINUTES: must be a non-negative integer")
		}
		cfg.Sync.Interval = time.Duration(minutes) * time.Minute
	}

	if v := os.Getenv("TOKEN_REFRESH_WINDOW_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_REFRESH_WINDOW_HOURS: must be a non-negative integer")
		}
		cfg.Sync.TokenRefreshWindow = time.Duration(hours) * time.Hour
	}

	if v := os.Getenv("ACTIVITY_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Config{}, fmt.Errorf("invalid ACTIVITY_RETENTION_DAYS: must be a non-negative integer")
		}
		cfg.Sync.ActivityRetention = time.Duration(days) * 24 * time.Hour
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"INSTAGRAM_APP_ID", c.Instagram.AppID},
		{"INSTAGRAM_APP_SECRET", c.Instagram.AppSecret},
		{"INSTAGRAM_REDIRECT_URI", c.Instagram.RedirectURI},
		{"ENCRYPTION_KEY", c.Security.EncryptionKey},
		{"AUTH_JWT_SECRET", c.Auth.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Server.Port != "" {
		cfg.Server.Port = fc.Server.Port
	}
	if fc.Logging.Level != "" {
		level, err := parseLogLevel(fc.Logging.Level)
		if err != nil {
			return fmt.Errorf("invalid logging.level in config file: %w", err)
		}
		cfg.Logging.Level = level
	}
	if fc.Logging.Format != "" {
		cfg.Logging.Format = fc.Logging.Format
	}
	if fc.Database.Driver != "" {
		cfg.Database.Driver = fc.Database.Driver
	}
	if fc.Database.URL != "" {
		cfg.Database.URL = fc.Database.URL
	}
	if fc.Database.SQLitePath != "" {
		cfg.Database.SQLitePath = fc.Database.SQLitePath
	}
	if fc.Instagram.AppID != "" {
		cfg.Instagram.AppID = fc.Instagram.AppID
	}
	if fc.Instagram.AppSecret != "" {
		cfg.Instagram.AppSecret = fc.Instagram.AppSecret
	}
	if fc.Instagram.RedirectURI != "" {
		cfg.Instagram.RedirectURI = fc.Instagram.RedirectURI
	}
	if fc.App.BaseURL != "" {
		cfg.App.BaseURL = fc.App.BaseURL
	}
	if fc.Sync.IntervalMinutes > 0 {
		cfg.Sync.Interval = time.Duration(fc.Sync.IntervalMinutes) * time.Minute
	}

	return nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
