package persistence

import (
	"fmt"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/database"
)

// statements holds the ledger statements for one driver. Each driver keeps its
// own placeholder syntax rather than rewriting at runtime.
type statements struct {
	countByEmail string
	insert       string
	stamp        string
	findByEmail  string
}

var sqliteStatements = statements{
	countByEmail: `SELECT email FROM licences WHERE email = ?`,
	insert:       `INSERT INTO licences (email) VALUES (?) RETURNING document_id`,
	stamp:        `UPDATE licences SET licence_id = ? WHERE email = ? RETURNING document_id`,
	findByEmail:  `SELECT document_id, email, licence_id FROM licences WHERE email = ?`,
}

var postgresStatements = statements{
	countByEmail: `SELECT email FROM licences WHERE email = $1`,
	insert:       `INSERT INTO licences (email) VALUES ($1) RETURNING document_id`,
	stamp:        `UPDATE licences SET licence_id = $1 WHERE email = $2 RETURNING document_id`,
	findByEmail:  `SELECT document_id, email, licence_id FROM licences WHERE email = $1`,
}

func statementsFor(driver database.Driver) (statements, error) {
	switch driver {
	case database.DriverSQLite:
		return sqliteStatements, nil
	case database.DriverPostgres:
		return postgresStatements, nil
	default:
		return statements{}, fmt.Errorf("no licence statements for driver %q", driver)
	}
}
