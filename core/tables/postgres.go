// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/dbproxy/core/csql"
)

// ChangeChannel is the postgres notification channel on which table
// renames and drops are announced. The payload is the organization id.
const ChangeChannel = "internal_table_changed"

// ErrDuplicateName is returned by Insert when the organization already has
// a table with that name
var ErrDuplicateName = errors.New("internal table name already exists")

// PostgresStore reads internal table metadata from postgres
type PostgresStore struct {
	db          *csql.DB
	findQuery   string
	insertQuery string
	deleteQuery string
}

// NewPostgresStore returns a store on the internal_table relation of the database schema
func NewPostgresStore(db *csql.DB) *PostgresStore {
	table := db.Schema + ".internal_table"
	return &PostgresStore{
		db: db,
		findQuery: `SELECT id, table_name, organization_id, created_at, updated_at FROM ` + table +
			` WHERE organization_id = $1 AND table_name = ANY($2);`,
		insertQuery: `INSERT INTO ` + table + ` (id, table_name, organization_id, created_at, updated_at)
VALUES($1,$2,$3,$4,$4);`,
		deleteQuery: `DELETE FROM ` + table + ` WHERE organization_id = $1 AND table_name = $2;`,
	}
}

// EnsureSchema creates the internal_table relation and the trigger
// announcing changes on ChangeChannel, if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := s.db.Schema
	_, err := s.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+schema+`.internal_table
(id uuid NOT NULL,
table_name varchar NOT NULL,
organization_id uuid NOT NULL,
created_at timestamp NOT NULL,
updated_at timestamp NOT NULL,
PRIMARY KEY(id),
UNIQUE(organization_id, table_name)
);
CREATE OR REPLACE FUNCTION `+schema+`.internal_table_notify() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('`+ChangeChannel+`', OLD.organization_id::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS internal_table_changed ON `+schema+`.internal_table;
CREATE TRIGGER internal_table_changed AFTER UPDATE OR DELETE ON `+schema+`.internal_table
FOR EACH ROW EXECUTE PROCEDURE `+schema+`.internal_table_notify();
`)
	if err != nil {
		return fmt.Errorf("cannot create internal_table: %w", err)
	}
	return nil
}

// FindByNames implements Store with a single query for all names
func (s *PostgresStore) FindByNames(ctx context.Context, organizationID uuid.UUID, names []string) ([]InternalTable, error) {
	rows, err := s.db.QueryContext(ctx, s.findQuery, organizationID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("cannot query internal tables: %w", err)
	}
	defer rows.Close()

	var result []InternalTable
	for rows.Next() {
		var t InternalTable
		if err := rows.Scan(&t.ID, &t.Name, &t.OrganizationID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Insert registers a table. It is used when a tenant provisions a table
// and by tests. A zero ID gets a new random one.
func (s *PostgresStore) Insert(ctx context.Context, t *InternalTable) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.insertQuery, t.ID, t.Name, t.OrganizationID, now)
	if err != nil {
		if err, ok := err.(*pq.Error); ok && err.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateName, t.Name)
		}
		return err
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

// Delete removes a table. Deleting a table that does not exist is not an error.
func (s *PostgresStore) Delete(ctx context.Context, organizationID uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx, s.deleteQuery, organizationID, name)
	return err
}
