package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/engine"
)

const (
	defaultSchema = "public"

	tablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
ORDER BY table_name`

	columnsQuery = `
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
)

// New returns the PostgreSQL engine. A nil open uses the pgx stdlib driver.
func New(open engine.OpenFunc, opts engine.Options) *engine.SQLEngine {
	if open == nil {
		open = func(dsn string) (*sql.DB, error) {
			return sql.Open("pgx", dsn)
		}
	}
	return engine.NewSQLEngine(Dialect(opts.ConnectTimeout), open, opts)
}

func Dialect(connectTimeout time.Duration) engine.Dialect {
	return engine.Dialect{
		Kind:         engine.KindPostgreSQL,
		TablesQuery:  tablesQuery,
		ColumnsQuery: columnsQuery,
		DSN: func(target engine.Target) (string, error) {
			return BuildDSN(target, connectTimeout)
		},
		SchemaName: func(target engine.Target) string {
			if name := strings.TrimSpace(target.Schema); name != "" {
				return name
			}
			return defaultSchema
		},
		Describe: describe,
	}
}

func BuildDSN(target engine.Target, connectTimeout time.Duration) (string, error) {
	if strings.TrimSpace(target.Host) == "" {
		return "", fmt.Errorf("host is required")
	}
	if target.Port <= 0 {
		return "", fmt.Errorf("port is required")
	}
	query := url.Values{}
	query.Set("sslmode", "prefer")
	if connectTimeout > 0 {
		seconds := int(connectTimeout.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		query.Set("connect_timeout", strconv.Itoa(seconds))
	}
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(target.User, target.Password),
		Host:     net.JoinHostPort(strings.TrimSpace(target.Host), strconv.Itoa(target.Port)),
		Path:     "/" + target.Database,
		RawQuery: query.Encode(),
	}
	return dsn.String(), nil
}

func describe(err error) (engine.NativeError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		message := pgErr.Message
		if pgErr.Detail != "" {
			message += ": " + pgErr.Detail
		}
		return engine.NativeError{Code: pgErr.Code, SQLState: pgErr.Code, Message: message}, true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return engine.NativeError{Code: "CONNECTION_FAILED", Message: connectErr.Error()}, true
	}
	return engine.NativeError{}, false
}
