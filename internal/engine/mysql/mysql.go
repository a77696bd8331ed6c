package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/askdb/askdb/internal/engine"
)

const (
	tablesQuery = `
SELECT TABLE_NAME
FROM information_schema.tables
WHERE table_schema = ?
ORDER BY TABLE_NAME`

	columnsQuery = `
SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ORDINAL_POSITION`
)

// errorNames maps server error numbers to the symbolic names clients usually
// see. Unmapped numbers are reported as MYSQL_<number>.
var errorNames = map[uint16]string{
	1044: "ER_DBACCESS_DENIED_ERROR",
	1045: "ER_ACCESS_DENIED_ERROR",
	1049: "ER_BAD_DB_ERROR",
	1052: "ER_NON_UNIQ_ERROR",
	1054: "ER_BAD_FIELD_ERROR",
	1055: "ER_WRONG_FIELD_WITH_GROUP",
	1064: "ER_PARSE_ERROR",
	1066: "ER_NONUNIQ_TABLE",
	1140: "ER_MIX_OF_GROUP_FUNC_AND_FIELDS",
	1146: "ER_NO_SUCH_TABLE",
	1142: "ER_TABLEACCESS_DENIED_ERROR",
	1222: "ER_WRONG_NUMBER_OF_COLUMNS_IN_SELECT",
	1248: "ER_DERIVED_MUST_HAVE_ALIAS",
	1305: "ER_SP_DOES_NOT_EXIST",
	1582: "ER_WRONG_PARAMCOUNT_TO_NATIVE_FCT",
	3065: "ER_FIELD_IN_ORDER_NOT_SELECT",
}

// New returns the MySQL engine. A nil open uses the registered mysql driver.
func New(open engine.OpenFunc, opts engine.Options) *engine.SQLEngine {
	if open == nil {
		open = func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		}
	}
	return engine.NewSQLEngine(Dialect(opts.ConnectTimeout), open, opts)
}

func Dialect(connectTimeout time.Duration) engine.Dialect {
	return engine.Dialect{
		Kind:         engine.KindMySQL,
		TablesQuery:  tablesQuery,
		ColumnsQuery: columnsQuery,
		DSN: func(target engine.Target) (string, error) {
			return BuildDSN(target, connectTimeout)
		},
		SchemaName: func(target engine.Target) string {
			return target.Database
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
	cfg := driver.NewConfig()
	cfg.User = target.User
	cfg.Passwd = target.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(strings.TrimSpace(target.Host), strconv.Itoa(target.Port))
	cfg.DBName = target.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if connectTimeout > 0 {
		cfg.Timeout = connectTimeout
	}
	return cfg.FormatDSN(), nil
}

func describe(err error) (engine.NativeError, bool) {
	var mysqlErr *driver.MySQLError
	if !errors.As(err, &mysqlErr) {
		return engine.NativeError{}, false
	}
	code, ok := errorNames[mysqlErr.Number]
	if !ok {
		code = "MYSQL_" + strconv.Itoa(int(mysqlErr.Number))
	}
	return engine.NativeError{
		Code:     code,
		SQLState: strings.TrimRight(string(mysqlErr.SQLState[:]), "\x00"),
		Message:  mysqlErr.Message,
	}, true
}
