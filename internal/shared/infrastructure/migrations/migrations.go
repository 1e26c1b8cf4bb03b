// Package migrations bootstraps the tables the ledger and the outbox use.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

// Files returns the ordered .up.sql file names for a driver.
func Files(driver database.Driver) ([]string, error) {
	if !driver.IsValid() {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}

	entries, err := fs.ReadDir(migrationsFS, driver.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)
	return upFiles, nil
}

// Run executes every migration for the connection's driver in order.
// Each file is idempotent, so Run is safe to call on every start.
func Run(ctx context.Context, conn database.Connection) error {
	driver := conn.Driver()
	files, err := Files(driver)
	if err != nil {
		return err
	}

	for _, file := range files {
		migration, err := migrationsFS.ReadFile(driver.String() + "/" + file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		if _, err := conn.Exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file, err)
		}
	}

	return nil
}
