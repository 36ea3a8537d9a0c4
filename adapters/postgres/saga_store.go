// Package postgres provides a PostgreSQL implementation of the saga store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/AshkanYarmoradi/go-sable/adapters"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*SagaStore)(nil)

// identifierPattern matches safe SQL identifiers (schema and table names).
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SagaStore provides a PostgreSQL implementation of adapters.SagaStore.
// Sagas live in one table keyed by (saga_type, saga_id); association values
// live in a separate index table so correlation lookups are a single indexed
// query.
type SagaStore struct {
	db         *sql.DB
	schema     string
	table      string
	assocTable string
}

// SagaStoreOption configures a SagaStore.
type SagaStoreOption func(*SagaStore)

// WithSchema sets the PostgreSQL schema for the saga tables.
func WithSchema(schema string) SagaStoreOption {
	return func(s *SagaStore) {
		s.schema = schema
	}
}

// WithTable sets the table name for saga records. The association index table
// is named "<table>_associations".
func WithTable(table string) SagaStoreOption {
	return func(s *SagaStore) {
		s.table = table
		s.assocTable = table + "_associations"
	}
}

// NewSagaStore creates a new PostgreSQL SagaStore.
func NewSagaStore(db *sql.DB, opts ...SagaStoreOption) *SagaStore {
	s := &SagaStore{
		db:         db,
		schema:     "public",
		table:      "sable_sagas",
		assocTable: "sable_sagas_associations",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// fullTableName returns the fully qualified and quoted saga table name.
func (s *SagaStore) fullTableName() string {
	return quoteIdentifier(s.schema) + "." + quoteIdentifier(s.table)
}

// fullAssocTableName returns the fully qualified and quoted association index
// table name.
func (s *SagaStore) fullAssocTableName() string {
	return quoteIdentifier(s.schema) + "." + quoteIdentifier(s.assocTable)
}

// Initialize creates the saga tables if they don't exist.
func (s *SagaStore) Initialize(ctx context.Context) error {
	// Validate schema and table names to prevent SQL injection
	for name, kind := range map[string]string{s.schema: "schema", s.table: "table", s.assocTable: "table"} {
		if err := validateIdentifier(name, kind); err != nil {
			return err
		}
	}

	tableQ := s.fullTableName()
	assocQ := s.fullAssocTableName()
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableQ + ` (
			saga_type VARCHAR(255) NOT NULL,
			saga_id VARCHAR(255) NOT NULL,
			root BYTEA NOT NULL,
			tracking_token BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (saga_type, saga_id)
		);

		CREATE TABLE IF NOT EXISTS ` + assocQ + ` (
			saga_type VARCHAR(255) NOT NULL,
			association_key VARCHAR(255) NOT NULL,
			association_value VARCHAR(255) NOT NULL,
			saga_id VARCHAR(255) NOT NULL,
			PRIMARY KEY (saga_type, association_key, association_value, saga_id)
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.assocTable+"_lookup") + ` ON ` + assocQ + ` (saga_type, association_key, association_value);
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.assocTable+"_saga") + ` ON ` + assocQ + ` (saga_type, saga_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("sable/postgres/saga: failed to create tables: %w", err)
	}

	return nil
}

// LoadSaga retrieves a stored saga entry along with its association values.
func (s *SagaStore) LoadSaga(ctx context.Context, sagaType, sagaID string) (*adapters.SagaEntry, error) {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return nil, err
	}

	query := `SELECT root, tracking_token FROM ` + s.fullTableName() + ` WHERE saga_type = $1 AND saga_id = $2`

	var (
		root  []byte
		token []byte
	)
	err := s.db.QueryRowContext(ctx, query, sagaType, sagaID).Scan(&root, &token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &adapters.SagaNotFoundError{SagaType: sagaType, SagaID: sagaID}
		}
		return nil, fmt.Errorf("sable/postgres/saga: failed to load saga: %w", err)
	}

	assocQuery := `SELECT association_key, association_value FROM ` + s.fullAssocTableName() + `
		WHERE saga_type = $1 AND saga_id = $2
		ORDER BY association_key, association_value`

	rows, err := s.db.QueryContext(ctx, assocQuery, sagaType, sagaID)
	if err != nil {
		return nil, fmt.Errorf("sable/postgres/saga: failed to load associations: %w", err)
	}
	defer rows.Close()

	var associations []adapters.AssociationRecord
	for rows.Next() {
		var rec adapters.AssociationRecord
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, fmt.Errorf("sable/postgres/saga: failed to scan association: %w", err)
		}
		associations = append(associations, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sable/postgres/saga: error iterating associations: %w", err)
	}

	return &adapters.SagaEntry{
		ID:                sagaID,
		Root:              root,
		TrackingToken:     token,
		AssociationValues: associations,
	}, nil
}

// InsertSaga stores a newly created saga and its association index entries
// atomically.
func (s *SagaStore) InsertSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO ` + s.fullTableName() + ` (saga_type, saga_id, root, tracking_token, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (saga_type, saga_id) DO NOTHING`

		result, err := tx.ExecContext(ctx, query, sagaType, sagaID, root, trackingToken, time.Now())
		if err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to insert saga: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return adapters.ErrSagaAlreadyExists
		}

		return s.insertAssociations(ctx, tx, sagaType, sagaID, associations)
	})
}

// UpdateSaga overwrites the stored root object, tracking token, and
// association index entries atomically.
func (s *SagaStore) UpdateSaga(ctx context.Context, sagaType, sagaID string, root, trackingToken []byte, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE ` + s.fullTableName() + ` SET root = $3, tracking_token = $4, updated_at = $5
			WHERE saga_type = $1 AND saga_id = $2`

		result, err := tx.ExecContext(ctx, query, sagaType, sagaID, root, trackingToken, time.Now())
		if err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to update saga: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return &adapters.SagaNotFoundError{SagaType: sagaType, SagaID: sagaID}
		}

		dropQuery := `DELETE FROM ` + s.fullAssocTableName() + ` WHERE saga_type = $1 AND saga_id = $2`
		if _, err := tx.ExecContext(ctx, dropQuery, sagaType, sagaID); err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to drop associations: %w", err)
		}

		return s.insertAssociations(ctx, tx, sagaType, sagaID, associations)
	})
}

// DeleteSaga removes a saga and drops the given association index entries
// atomically. Deleting an unknown saga is a no-op.
func (s *SagaStore) DeleteSaga(ctx context.Context, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	if err := validateKeys(sagaType, sagaID); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `DELETE FROM ` + s.fullTableName() + ` WHERE saga_type = $1 AND saga_id = $2`
		if _, err := tx.ExecContext(ctx, query, sagaType, sagaID); err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to delete saga: %w", err)
		}

		dropQuery := `DELETE FROM ` + s.fullAssocTableName() + `
			WHERE saga_type = $1 AND saga_id = $2 AND association_key = $3 AND association_value = $4`
		for _, rec := range associations {
			if _, err := tx.ExecContext(ctx, dropQuery, sagaType, sagaID, rec.Key, rec.Value); err != nil {
				return fmt.Errorf("sable/postgres/saga: failed to drop association: %w", err)
			}
		}
		return nil
	})
}

// FindSagas returns the identifiers of all sagas of the given type indexed
// under the given association value.
func (s *SagaStore) FindSagas(ctx context.Context, sagaType string, association adapters.AssociationRecord) ([]string, error) {
	if sagaType == "" {
		return nil, adapters.ErrEmptySagaType
	}

	query := `SELECT saga_id FROM ` + s.fullAssocTableName() + `
		WHERE saga_type = $1 AND association_key = $2 AND association_value = $3
		ORDER BY saga_id`

	rows, err := s.db.QueryContext(ctx, query, sagaType, association.Key, association.Value)
	if err != nil {
		return nil, fmt.Errorf("sable/postgres/saga: failed to find sagas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sable/postgres/saga: failed to scan saga ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases any resources (no-op for this implementation as db is shared).
func (s *SagaStore) Close() error {
	// Don't close the DB connection as it may be shared
	return nil
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on error.
func (s *SagaStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sable/postgres/saga: failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sable/postgres/saga: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SagaStore) insertAssociations(ctx context.Context, tx *sql.Tx, sagaType, sagaID string, associations []adapters.AssociationRecord) error {
	query := `INSERT INTO ` + s.fullAssocTableName() + ` (saga_type, association_key, association_value, saga_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`

	for _, rec := range associations {
		if _, err := tx.ExecContext(ctx, query, sagaType, rec.Key, rec.Value, sagaID); err != nil {
			return fmt.Errorf("sable/postgres/saga: failed to insert association: %w", err)
		}
	}
	return nil
}

func validateKeys(sagaType, sagaID string) error {
	if sagaType == "" {
		return adapters.ErrEmptySagaType
	}
	if sagaID == "" {
		return adapters.ErrEmptySagaID
	}
	return nil
}

// validateIdentifier ensures a schema or table name is safe to interpolate.
func validateIdentifier(name, kind string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("sable/postgres/saga: invalid %s name %q", kind, name)
	}
	return nil
}

// quoteIdentifier quotes a schema or table name for safe interpolation.
func quoteIdentifier(name string) string {
	return `"` + name + `"`
}
