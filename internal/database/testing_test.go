package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socialpulse/socialpulse/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDB opens a migrated SQLite database in a temporary directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Dialect = DialectSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "socialpulse.db")

	db, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, discardLogger()))
	return db
}

func newTestCipher(t *testing.T) *security.TokenCipher {
	t.Helper()
	c, err := security.NewTokenCipher([]byte("test-encryption-key"))
	require.NoError(t, err)
	return c
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
