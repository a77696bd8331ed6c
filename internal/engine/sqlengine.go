package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/schema"
)

type OpenFunc func(dsn string) (*sql.DB, error)

// NativeError is a driver error decoded into the engine's own vocabulary.
type NativeError struct {
	Code     string
	SQLState string
	Message  string
}

// Dialect captures everything that differs between engines reachable through
// database/sql.
type Dialect struct {
	Kind Kind
	// TablesQuery takes the schema name as its only argument.
	TablesQuery string
	// ColumnsQuery takes the schema name and the table name.
	ColumnsQuery string
	DSN          func(Target) (string, error)
	SchemaName   func(Target) string
	Describe     func(error) (NativeError, bool)
}

type Options struct {
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	MaxRows          int
}

// SQLEngine implements Engine over database/sql for a given dialect.
type SQLEngine struct {
	dialect Dialect
	open    OpenFunc
	opts    Options
}

func NewSQLEngine(dialect Dialect, open OpenFunc, opts Options) *SQLEngine {
	return &SQLEngine{dialect: dialect, open: open, opts: opts}
}

func (e *SQLEngine) Kind() Kind {
	return e.dialect.Kind
}

func (e *SQLEngine) Introspect(ctx context.Context, target Target) (schema.Snapshot, error) {
	db, err := e.connect(ctx, target)
	if err != nil {
		return schema.Snapshot{}, err
	}
	defer func() { _ = db.Close() }()

	schemaName := e.dialect.SchemaName(target)
	tableNames, err := e.listTables(ctx, db, schemaName)
	if err != nil {
		return schema.Snapshot{}, e.failure(apperr.KindIntrospection, "INTROSPECTION_FAILED", err)
	}

	snapshot := schema.Snapshot{Tables: make([]schema.Table, 0, len(tableNames))}
	for _, name := range tableNames {
		columns, err := e.listColumns(ctx, db, schemaName, name)
		if err != nil {
			return schema.Snapshot{}, e.failure(apperr.KindIntrospection, "INTROSPECTION_FAILED", err)
		}
		snapshot.Tables = append(snapshot.Tables, schema.Table{Name: name, Columns: columns})
	}
	return snapshot, nil
}

func (e *SQLEngine) Run(ctx context.Context, target Target, statement string) (Result, error) {
	db, err := e.connect(ctx, target)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = db.Close() }()

	if e.opts.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StatementTimeout)
		defer cancel()
	}

	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, e.failure(apperr.KindQuery, "SQL_ERROR", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := collectRows(rows, e.opts.MaxRows)
	if err != nil {
		return Result{}, e.failure(apperr.KindQuery, "SQL_ERROR", err)
	}
	return result, nil
}

func (e *SQLEngine) connect(ctx context.Context, target Target) (*sql.DB, error) {
	dsn, err := e.dialect.DSN(target)
	if err != nil {
		return nil, apperr.Validation("INVALID_CONNECTION", err.Error())
	}
	db, err := e.open(dsn)
	if err != nil {
		return nil, e.failure(apperr.KindConnection, "CONNECTION_FAILED", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx := ctx
	if e.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, e.opts.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, e.failure(apperr.KindConnection, "CONNECTION_FAILED", err)
	}
	return db, nil
}

func (e *SQLEngine) listTables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, e.dialect.TablesQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return names, nil
}

func (e *SQLEngine) listColumns(ctx context.Context, db *sql.DB, schemaName, table string) ([]schema.Column, error) {
	rows, err := db.QueryContext(ctx, e.dialect.ColumnsQuery, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("list columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]schema.Column, 0)
	for rows.Next() {
		var (
			name     string
			dataType string
			nullable string
		)
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, schema.Column{
			Name:     name,
			DataType: dataType,
			Nullable: schema.ParseNullable(nullable),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

func (e *SQLEngine) failure(kind apperr.Kind, fallbackCode string, err error) *apperr.Error {
	out := apperr.Wrap(kind, fallbackCode, err)
	out.Engine = string(e.dialect.Kind)
	if errors.Is(err, context.DeadlineExceeded) {
		out.Code = "TIMEOUT"
	}
	if e.dialect.Describe == nil {
		return out
	}
	if native, ok := e.dialect.Describe(err); ok {
		if native.Code != "" {
			out.Code = native.Code
		}
		out.SQLState = native.SQLState
		if native.Message != "" {
			out.Message = native.Message
		}
	}
	return out
}

func collectRows(rows *sql.Rows, maxRows int) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}
	typeNames := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range columnTypes {
			if i < len(typeNames) {
				typeNames[i] = strings.ToUpper(columnType.DatabaseTypeName())
			}
		}
	}

	result := Result{Columns: columns, Rows: make([]Row, 0)}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i], typeNames[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate result rows: %w", err)
	}
	return result, nil
}

func normalizeValue(value any, typeName string) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		return normalizeText(string(typed), typeName)
	case string:
		return normalizeText(typed, typeName)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return typed
	}
}

// normalizeText turns numeric columns delivered as text into JSON numbers so
// the classifier sees numbers rather than strings.
func normalizeText(value, typeName string) any {
	switch {
	case isIntegerType(typeName):
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	case isDecimalType(typeName):
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return value
}

func isIntegerType(typeName string) bool {
	switch strings.TrimPrefix(typeName, "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		return true
	default:
		return false
	}
}

func isDecimalType(typeName string) bool {
	switch typeName {
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8":
		return true
	default:
		return false
	}
}
