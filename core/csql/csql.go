// Package csql wraps a postgres sql.DB together with the schema it operates in.
package csql

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/dbproxy/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
	// DataSourceName is the full connection string, including the password if any.
	// It is needed to open dedicated listener connections.
	DataSourceName string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row.
var ErrNoRows = sql.ErrNoRows

// ConnectionString appends the password to a postgres connection string
// given in key/value form.
func ConnectionString(dataSourceName, password string) string {
	if len(password) == 0 {
		return dataSourceName
	}
	return dataSourceName + " password=" + password
}

// Open connects to a postgres database and selects the schema. The schema
// gets created if it does not exist yet; an empty schema selects "public".
func Open(dataSourceName, password, schema string) (*DB, error) {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database: ", dataSourceName)
	dsn := ConnectionString(dataSourceName, password)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach postgres: %w", err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected database schema:", schema)
		if _, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("cannot create schema %s: %w", schema, err)
		}
	}
	return &DB{DB: db, Schema: schema, DataSourceName: dsn}, nil
}

// MustOpen is like Open but panics on error. Use it during service start.
func MustOpen(dataSourceName, password, schema string) *DB {
	db, err := Open(dataSourceName, password, schema)
	if err != nil {
		panic(err)
	}
	return db
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema error:", db.Schema)
	}
}
