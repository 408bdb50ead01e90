package database

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	return string(d)
}

var positionalParam = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders for dialects that spell them differently.
// Queries are written in PostgreSQL form.
func (d Dialect) Rebind(query string) string {
	if d == DialectSQLite {
		return positionalParam.ReplaceAllString(query, "?$1")
	}
	return query
}

// isUniqueViolation reports whether err was raised by a unique index.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// timestamp scans a time column regardless of whether the driver hands back a
// time.Time or its text form. Valid is false for NULL.
type timestamp struct {
	Time  time.Time
	Valid bool
}

func (t *timestamp) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (t timestamp) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Value stores timestamps in UTC.
func (t timestamp) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.UTC(), nil
}

func nullableTime(t *time.Time) timestamp {
	if t == nil {
		return timestamp{}
	}
	return timestamp{Time: t.UTC(), Valid: true}
}

// dateParam formats a calendar date for date_collected comparisons.
func dateParam(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
