package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // SQLite driver
	_ "github.com/lib/pq"              // PostgreSQL driver
)

// Config holds database connection configuration.
type Config struct {
	Dialect            Dialect
	URL                string
	SQLitePath         string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig returns sensible defaults for database configuration.
func DefaultConfig() Config {
	return Config{
		Dialect:            DialectPostgres,
		MaxConnections:     25,
		MaxIdleConnections: 10,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
	}
}

// DB pairs a connection pool with the SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Connect opens and verifies a connection for the configured dialect.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	var dsn string
	switch cfg.Dialect {
	case DialectPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("database URL is required")
		}
		dsn = cfg.URL
	case DialectSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		dsn = sqliteDSN(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database dialect: %q", cfg.Dialect)
	}

	db, err := sql.Open(cfg.Dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Dialect == DialectSQLite {
		// SQLite allows a single writer; serialise through one connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Dialect: cfg.Dialect}, nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// HealthCheck performs a database health check.
func HealthCheck(ctx context.Context, db *DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("unexpected health check result: %d", result)
	}

	return nil
}

// Stats returns database statistics.
func Stats(db *DB) map[string]interface{} {
	stats := db.DB.Stats()
	return map[string]interface{}{
		"dialect":              string(db.Dialect),
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}
