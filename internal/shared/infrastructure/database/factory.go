package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config selects and configures the ledger store.
type Config struct {
	// Driver may be empty or "auto" to detect it from URL.
	Driver Driver
	// URL is the PostgreSQL connection string.
	URL string
	// SQLitePath defaults to ~/.licenceledger/ledger.db.
	SQLitePath string
	// MaxConns caps the PostgreSQL pool.
	MaxConns int
}

// Opener opens a Connection for one driver.
type Opener func(ctx context.Context, cfg Config) (Connection, error)

var (
	openersMu sync.RWMutex
	openers   = map[Driver]Opener{}
)

// Register makes a driver available to NewConnection. Driver packages call it
// from init, so a binary only links the stores it imports.
func Register(driver Driver, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[driver] = open
}

// NewConnection opens the ledger store selected by cfg.
func NewConnection(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" || driver == "auto" {
		driver = DetectDriver(cfg.URL)
	}
	if !driver.IsValid() {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	openersMu.RLock()
	open, ok := openers[driver]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database driver %s is not registered", driver)
	}
	return open(ctx, cfg)
}

// DefaultSQLitePath is the ledger file used when no path is configured.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".licenceledger", "ledger.db")
}

// EnsureDirectory creates the parent directory of path.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
