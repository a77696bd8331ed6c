package engine

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/apperr"
)

const (
	testTablesQuery = `
SELECT table_name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name`
	testColumnsQuery = `
SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`
)

var errNative = errors.New("native failure")

func testDialect() Dialect {
	return Dialect{
		Kind:         KindMySQL,
		TablesQuery:  testTablesQuery,
		ColumnsQuery: testColumnsQuery,
		DSN: func(target Target) (string, error) {
			if target.Host == "" {
				return "", errors.New("host is required")
			}
			return "dsn://" + target.Host, nil
		},
		SchemaName: func(target Target) string { return target.Database },
		Describe: func(err error) (NativeError, bool) {
			if errors.Is(err, errNative) {
				return NativeError{Code: "ER_BAD_FIELD_ERROR", SQLState: "42S22", Message: "Unknown column 'amt'"}, true
			}
			return NativeError{}, false
		},
	}
}

func testTarget() Target {
	return Target{Host: "db.local", Port: 3306, User: "reader", Password: "pw", Database: "shop"}
}

func TestIntrospectReadsTablesThenColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	e := NewSQLEngine(testDialect(), openReturning(db), Options{})

	mock.ExpectQuery(regexp.QuoteMeta(testTablesQuery)).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("customers").AddRow("sales"))
	mock.ExpectQuery(regexp.QuoteMeta(testColumnsQuery)).
		WithArgs("shop", "customers").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "int", "NO").
			AddRow("name", "varchar", "YES"))
	mock.ExpectQuery(regexp.QuoteMeta(testColumnsQuery)).
		WithArgs("shop", "sales").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("amount", "decimal", "NO"))
	mock.ExpectClose()

	snapshot, err := e.Introspect(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(snapshot.Tables) != 2 {
		t.Fatalf("tables = %+v", snapshot.Tables)
	}
	if snapshot.Tables[0].Name != "customers" || snapshot.Tables[1].Name != "sales" {
		t.Fatalf("table order = %+v", snapshot.Tables)
	}
	customers := snapshot.Tables[0].Columns
	if len(customers) != 2 || customers[0].Name != "id" || customers[1].Name != "name" {
		t.Fatalf("customers columns = %+v", customers)
	}
	if customers[0].Nullable || !customers[1].Nullable {
		t.Fatalf("nullability = %+v", customers)
	}
	assertSQLMock(t, mock)
}

func TestIntrospectMetadataFailureIsIntrospectionError(t *testing.T) {
	db, mock := newSQLMock(t)
	e := NewSQLEngine(testDialect(), openReturning(db), Options{})

	mock.ExpectQuery(regexp.QuoteMeta(testTablesQuery)).
		WithArgs("shop").
		WillReturnError(errors.New("permission denied for information_schema"))
	mock.ExpectClose()

	_, err := e.Introspect(context.Background(), testTarget())
	if got := apperr.KindOf(err); got != apperr.KindIntrospection {
		t.Fatalf("KindOf() = %q, err = %v", got, err)
	}
	assertSQLMock(t, mock)
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	e := NewSQLEngine(testDialect(), openReturning(db), Options{ConnectTimeout: time.Second})

	mock.ExpectPing().WillReturnError(errors.New("dial tcp 10.0.0.1:3306: connect: connection refused"))
	mock.ExpectClose()

	_, err = e.Run(context.Background(), testTarget(), "SELECT 1")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindConnection {
		t.Fatalf("Run() error = %v", err)
	}
	if appErr.Engine != "mysql" {
		t.Fatalf("Engine = %q", appErr.Engine)
	}
	assertSQLMock(t, mock)
}

func TestOpenFailureIsConnectionError(t *testing.T) {
	e := NewSQLEngine(testDialect(), func(string) (*sql.DB, error) {
		return nil, errors.New("unknown driver")
	}, Options{})
	_, err := e.Run(context.Background(), testTarget(), "SELECT 1")
	if got := apperr.KindOf(err); got != apperr.KindConnection {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestInvalidTargetIsValidationError(t *testing.T) {
	e := NewSQLEngine(testDialect(), func(string) (*sql.DB, error) {
		t.Fatal("open should not be called for an invalid target")
		return nil, nil
	}, Options{})
	_, err := e.Run(context.Background(), Target{}, "SELECT 1")
	if got := apperr.KindOf(err); got != apperr.KindValidation {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestRunReturnsRowsAndClosesConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	e := NewSQLEngine(testDialect(), openReturning(db), Options{StatementTimeout: time.Second})
	created := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT month, total, label, created_at FROM report`)).
		WillReturnRows(mock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("month").OfType("BIGINT", int64(0)),
			sqlmock.NewColumn("total").OfType("DECIMAL", []byte("")).Nullable(true),
			sqlmock.NewColumn("label").OfType("VARCHAR", []byte("")),
			sqlmock.NewColumn("created_at").OfType("DATETIME", time.Time{}),
		).
			AddRow(int64(1), []byte("10.5"), []byte("jan"), created).
			AddRow(int64(2), nil, []byte("feb"), created))
	mock.ExpectClose()

	result, err := e.Run(context.Background(), testTarget(), `SELECT month, total, label, created_at FROM report`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Columns) != 4 || result.Columns[0] != "month" || result.Columns[3] != "created_at" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("Rows = %+v", result.Rows)
	}
	first := result.Rows[0]
	if first["month"] != int64(1) || first["total"] != 10.5 || first["label"] != "jan" {
		t.Fatalf("first row = %+v", first)
	}
	if first["created_at"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("created_at = %#v", first["created_at"])
	}
	if result.Rows[1]["total"] != nil {
		t.Fatalf("null value = %#v", result.Rows[1]["total"])
	}
	if result.Truncated {
		t.Fatal("Truncated should be false")
	}
	assertSQLMock(t, mock)
}

func TestRunTruncatesAtMaxRows(t *testing.T) {
	db, mock := newSQLMock(t)
	e := NewSQLEngine(testDialect(), openReturning(db), Options{MaxRows: 2})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM t`)).
		WillReturnRows(mock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("BIGINT", int64(0))).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))
	mock.ExpectClose()

	result, err := e.Run(context.Background(), testTarget(), `SELECT id FROM t`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestRunQueryFailureCarriesNativeCode(t *testing.T) {
	db, mock := newSQLMock(t)
	e := NewSQLEngine(testDialect(), openReturning(db), Options{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT amt FROM sales`)).WillReturnError(errNative)
	mock.ExpectClose()

	_, err := e.Run(context.Background(), testTarget(), `SELECT amt FROM sales`)
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("Run() error = %v", err)
	}
	if appErr.Kind != apperr.KindQuery || appErr.Code != "ER_BAD_FIELD_ERROR" || appErr.SQLState != "42S22" {
		t.Fatalf("error = %+v", appErr)
	}
	if appErr.Message != "Unknown column 'amt'" {
		t.Fatalf("Message = %q", appErr.Message)
	}
	if !errors.Is(err, errNative) {
		t.Fatal("error should unwrap to native cause")
	}
	assertSQLMock(t, mock)
}

func TestRunQueryFailureWithoutNativeCode(t *testing.T) {
	db, mock := newSQLMock(t)
	e := NewSQLEngine(testDialect(), openReturning(db), Options{})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1`)).WillReturnError(errors.New("syntax"))
	mock.ExpectClose()

	_, err := e.Run(context.Background(), testTarget(), `SELECT 1`)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != "SQL_ERROR" {
		t.Fatalf("Run() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestNormalizeValueConvertsNumericText(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		typeName string
		want     any
	}{
		{name: "decimal bytes", value: []byte("12.50"), typeName: "DECIMAL", want: 12.5},
		{name: "numeric string", value: "7", typeName: "NUMERIC", want: 7.0},
		{name: "bigint bytes", value: []byte("42"), typeName: "BIGINT", want: int64(42)},
		{name: "unsigned int", value: []byte("9"), typeName: "UNSIGNED INT", want: int64(9)},
		{name: "varchar bytes", value: []byte("42"), typeName: "VARCHAR", want: "42"},
		{name: "bad decimal", value: []byte("n/a"), typeName: "DECIMAL", want: "n/a"},
		{name: "bool", value: true, typeName: "BOOL", want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeValue(tc.value, tc.typeName); got != tc.want {
				t.Fatalf("normalizeValue() = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestSetForUnknownEngine(t *testing.T) {
	set := NewSet(NewSQLEngine(testDialect(), nil, Options{}))
	if _, err := set.For(KindMySQL); err != nil {
		t.Fatalf("For(mysql) error = %v", err)
	}
	_, err := set.For(KindPostgreSQL)
	if got := apperr.KindOf(err); got != apperr.KindUnsupportedEngine {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestParseKind(t *testing.T) {
	if kind, ok := ParseKind(" PostgreSQL "); !ok || kind != KindPostgreSQL {
		t.Fatalf("ParseKind() = %q, %v", kind, ok)
	}
	if _, ok := ParseKind("sqlite"); ok {
		t.Fatal("sqlite should not parse")
	}
	if KindMySQL.DefaultPort() != 3306 || KindPostgreSQL.DefaultPort() != 5432 {
		t.Fatal("unexpected default ports")
	}
}

func openReturning(db *sql.DB) OpenFunc {
	return func(string) (*sql.DB, error) {
		return db, nil
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
