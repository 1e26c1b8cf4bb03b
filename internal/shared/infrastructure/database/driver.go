package database

import (
	"fmt"
	"strings"
)

// Driver represents a ledger storage backend.
type Driver string

const (
	// DriverPostgres stores ledger documents in PostgreSQL under SERIALIZABLE isolation.
	DriverPostgres Driver = "postgres"
	// DriverSQLite stores ledger documents in a local SQLite file.
	DriverSQLite Driver = "sqlite"
)

func (d Driver) String() string { return string(d) }

// IsValid reports whether d names a supported store.
func (d Driver) IsValid() bool {
	return d == DriverPostgres || d == DriverSQLite
}

// ParseDriver converts a configured driver name. Empty and "auto" resolve to
// the driver detected from url.
func ParseDriver(name, url string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DetectDriver(url), nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unknown database driver %q", name)
	}
}

var (
	postgresSchemes  = []string{"postgres://", "postgresql://"}
	sqlitePrefixes   = []string{"sqlite://", "file:"}
	sqliteExtensions = []string{".db", ".sqlite", ".sqlite3"}
)

// DetectDriver picks a driver from a connection string. An empty URL selects
// SQLite so the ledger works without any setup; anything unrecognised is
// assumed to be PostgreSQL.
func DetectDriver(url string) Driver {
	switch {
	case url == "":
		return DriverSQLite
	case hasAny(url, strings.HasPrefix, postgresSchemes):
		return DriverPostgres
	case hasAny(url, strings.HasPrefix, sqlitePrefixes), hasAny(url, strings.HasSuffix, sqliteExtensions):
		return DriverSQLite
	}
	return DriverPostgres
}

func hasAny(s string, match func(string, string) bool, affixes []string) bool {
	for _, a := range affixes {
		if match(s, a) {
			return true
		}
	}
	return false
}
