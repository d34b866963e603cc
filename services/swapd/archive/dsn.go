package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const defaultFilePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// ErrDSNRequired is returned when no archive location is configured.
var ErrDSNRequired = errors.New("archive dsn must be configured")

// ResolveDSN picks the database driver for raw. Postgres URLs are passed
// through; file: and :memory: DSNs go to SQLite unchanged and bare paths are
// turned into an on-disk SQLite DSN.
func ResolveDSN(raw string) (string, string, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return "", "", ErrDSNRequired
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return DriverPostgres, trimmed, nil
	case strings.HasPrefix(trimmed, "file:"), trimmed == ":memory:":
		return DriverSQLite, trimmed, nil
	}
	dsn, err := FileDSN(trimmed)
	if err != nil {
		return "", "", err
	}
	return DriverSQLite, dsn, nil
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrDSNRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve archive path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}
