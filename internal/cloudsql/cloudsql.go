// Package cloudsql builds PostgreSQL connection strings for Cloud SQL
// instances mounted into Cloud Run.
package cloudsql

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// SocketDir is where Cloud Run mounts Cloud SQL instance sockets.
const SocketDir = "/cloudsql"

// Settings describes a Cloud SQL instance reached over its Unix socket.
type Settings struct {
	InstanceConnectionName string // project:region:instance
	User                   string
	Password               string // empty for IAM authentication
	Name                   string
}

// FromEnv reads INSTANCE_CONNECTION_NAME, DB_USER, DB_PASSWORD and DB_NAME.
func FromEnv() Settings {
	return Settings{
		InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
		User:                   os.Getenv("DB_USER"),
		Password:               os.Getenv("DB_PASSWORD"),
		Name:                   os.Getenv("DB_NAME"),
	}
}

// Configured reports whether an instance was named.
func (s Settings) Configured() bool {
	return s.InstanceConnectionName != ""
}

// SocketPath returns the instance socket directory.
func (s Settings) SocketPath() string {
	return SocketDir + "/" + s.InstanceConnectionName
}

// DatabaseURL returns a lib/pq key/value connection string for the instance.
func (s Settings) DatabaseURL() (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("INSTANCE_CONNECTION_NAME is not set")
	}
	if s.User == "" || s.Name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=" + quote(s.SocketPath()),
		"user=" + quote(s.User),
	}
	if s.Password != "" {
		parts = append(parts, "password="+quote(s.Password))
	}
	parts = append(parts, "dbname="+quote(s.Name), "sslmode=disable")
	return strings.Join(parts, " "), nil
}

// quote escapes a key/value connection string value when it needs it.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Describe returns loggable connection details for databaseURL with any
// password removed.
func Describe(databaseURL string) map[string]string {
	details := map[string]string{}
	switch {
	case databaseURL == "":
		details["connection_type"] = "none"
	case strings.Contains(databaseURL, "host="+SocketDir+"/"), strings.Contains(databaseURL, "host='"+SocketDir+"/"):
		details["connection_type"] = "cloud_sql"
		details["database_url"] = RedactPassword(databaseURL)
	default:
		details["connection_type"] = "direct"
		details["database_url"] = RedactPassword(databaseURL)
	}
	return details
}

var passwordPair = regexp.MustCompile(`password=('(?:[^'\\]|\\.)*'|\S+)`)

// RedactPassword masks the password in a URL or key/value connection string.
func RedactPassword(connStr string) string {
	if strings.HasPrefix(connStr, "postgresql://") || strings.HasPrefix(connStr, "postgres://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return "***"
		}
		return u.Redacted()
	}
	return passwordPair.ReplaceAllString(connStr, "password=***")
}
