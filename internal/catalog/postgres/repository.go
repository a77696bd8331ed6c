package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/schema"
)

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateConnection(ctx context.Context, in catalog.CreateConnectionInput) (catalog.Connection, error) {
	var conn catalog.Connection
	err := r.WithTx(ctx, func(tx *TxRepository) error {
		created, err := tx.CreateConnection(ctx, in)
		if err != nil {
			return err
		}
		if err := tx.SaveSchemaSnapshot(ctx, created.ConnectionID, in.Snapshot); err != nil {
			return err
		}
		conn = created
		return nil
	})
	if err != nil {
		return catalog.Connection{}, err
	}
	return conn, nil
}

func (r *Repository) GetConnection(ctx context.Context, connectionID int64) (catalog.Connection, error) {
	query := `
SELECT connection_id, owner_user_id, engine, host, port, username, password, database_name, created_at, updated_at
FROM db_connection
WHERE connection_id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, connectionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Connection{}, catalog.ErrNotFound
		}
		return catalog.Connection{}, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) ListConnectionsForOwner(ctx context.Context, ownerUserID string) ([]catalog.Connection, error) {
	query := `
SELECT connection_id, owner_user_id, engine, host, port, username, password, database_name, created_at, updated_at
FROM db_connection
WHERE owner_user_id = $1
ORDER BY updated_at DESC, connection_id DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	connections := make([]catalog.Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return connections, nil
}

// SaveSchemaSnapshot replaces any stored snapshot for the connection.
func (r *Repository) SaveSchemaSnapshot(ctx context.Context, connectionID int64, snapshot schema.Snapshot) error {
	return r.WithTx(ctx, func(tx *TxRepository) error {
		return tx.SaveSchemaSnapshot(ctx, connectionID, snapshot)
	})
}

// GetSchemaSnapshot rebuilds the table to columns mapping from the stored rows.
// A connection without stored rows yields an empty snapshot.
func (r *Repository) GetSchemaSnapshot(ctx context.Context, connectionID int64) (schema.Snapshot, error) {
	query := `
SELECT t.table_name, c.column_name, c.data_type, c.is_nullable
FROM connection_schema_table t
LEFT JOIN connection_schema_column c ON c.schema_table_id = t.schema_table_id
WHERE t.connection_id = $1
ORDER BY t.position ASC, c.ordinal_position ASC`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("get schema snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := schema.Snapshot{Tables: make([]schema.Table, 0)}
	for rows.Next() {
		var (
			tableName  string
			columnName sql.NullString
			dataType   sql.NullString
			nullable   sql.NullBool
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return schema.Snapshot{}, fmt.Errorf("scan schema row: %w", err)
		}
		last := len(snapshot.Tables) - 1
		if last < 0 || snapshot.Tables[last].Name != tableName {
			snapshot.Tables = append(snapshot.Tables, schema.Table{Name: tableName, Columns: make([]schema.Column, 0)})
			last++
		}
		if !columnName.Valid {
			continue
		}
		snapshot.Tables[last].Columns = append(snapshot.Tables[last].Columns, schema.Column{
			Name:     columnName.String,
			DataType: dataType.String,
			Nullable: nullable.Bool,
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Snapshot{}, fmt.Errorf("iterate schema rows: %w", err)
	}
	return snapshot, nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txRepo := &TxRepository{q: tx}
	if err := fn(txRepo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type TxRepository struct {
	q dbTX
}

func (r *TxRepository) CreateConnection(ctx context.Context, in catalog.CreateConnectionInput) (catalog.Connection, error) {
	query := `
INSERT INTO db_connection (owner_user_id, engine, host, port, username, password, database_name)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING connection_id, created_at, updated_at`

	conn := catalog.Connection{
		OwnerUserID: in.OwnerUserID,
		Engine:      in.Engine,
		Host:        in.Host,
		Port:        in.Port,
		User:        in.User,
		Password:    in.Password,
		Database:    in.Database,
	}
	if err := r.q.QueryRowContext(ctx, query,
		in.OwnerUserID, in.Engine, in.Host, in.Port, in.User, in.Password, in.Database,
	).Scan(&conn.ConnectionID, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
		return catalog.Connection{}, fmt.Errorf("create connection in tx: %w", err)
	}
	return conn, nil
}

func (r *TxRepository) SaveSchemaSnapshot(ctx context.Context, connectionID int64, snapshot schema.Snapshot) error {
	if _, err := r.q.ExecContext(ctx, `
DELETE FROM connection_schema_table
WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("clear schema snapshot in tx: %w", err)
	}

	tableQuery := `
INSERT INTO connection_schema_table (connection_id, table_name, position)
VALUES ($1, $2, $3)
RETURNING schema_table_id`
	columnQuery := `
INSERT INTO connection_schema_column (schema_table_id, column_name, data_type, is_nullable, ordinal_position)
VALUES ($1, $2, $3, $4, $5)`

	for tablePos, table := range snapshot.Tables {
		var tableID int64
		if err := r.q.QueryRowContext(ctx, tableQuery, connectionID, table.Name, tablePos).Scan(&tableID); err != nil {
			return fmt.Errorf("insert schema table %q in tx: %w", table.Name, err)
		}
		for columnPos, column := range table.Columns {
			if _, err := r.q.ExecContext(ctx, columnQuery, tableID, column.Name, column.DataType, column.Nullable, columnPos+1); err != nil {
				return fmt.Errorf("insert schema column %q.%q in tx: %w", table.Name, column.Name, err)
			}
		}
	}
	return nil
}

func scanConnection(row rowScanner) (catalog.Connection, error) {
	var conn catalog.Connection
	if err := row.Scan(
		&conn.ConnectionID,
		&conn.OwnerUserID,
		&conn.Engine,
		&conn.Host,
		&conn.Port,
		&conn.User,
		&conn.Password,
		&conn.Database,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	); err != nil {
		return catalog.Connection{}, err
	}
	return conn, nil
}
