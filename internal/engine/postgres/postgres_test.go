package postgres

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/askdb/askdb/internal/engine"
)

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(engine.Target{
		Host:     "pg.internal",
		Port:     5432,
		User:     "reader",
		Password: "s3cr/t",
		Database: "analytics",
	}, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("BuildDSN() error = %v", err)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if parsed.Scheme != "postgres" || parsed.Host != "pg.internal:5432" || parsed.Path != "/analytics" {
		t.Fatalf("dsn = %s", dsn)
	}
	if password, _ := parsed.User.Password(); password != "s3cr/t" || parsed.User.Username() != "reader" {
		t.Fatalf("user info = %v", parsed.User)
	}
	if got := parsed.Query().Get("connect_timeout"); got != "2" {
		t.Fatalf("connect_timeout = %q", got)
	}
	if got := parsed.Query().Get("sslmode"); got != "prefer" {
		t.Fatalf("sslmode = %q", got)
	}
}

func TestBuildDSNRequiresHostAndPort(t *testing.T) {
	if _, err := BuildDSN(engine.Target{Port: 5432}, 0); err == nil {
		t.Fatal("expected missing host error")
	}
	if _, err := BuildDSN(engine.Target{Host: "pg"}, 0); err == nil {
		t.Fatal("expected missing port error")
	}
}

func TestDescribeUsesSQLState(t *testing.T) {
	err := fmt.Errorf("query: %w", &pgconn.PgError{
		Code:    "42703",
		Message: `column "amt" does not exist`,
		Detail:  "hint detail",
	})
	native, ok := describe(err)
	if !ok {
		t.Fatal("describe() did not recognise PgError")
	}
	if native.Code != "42703" || native.SQLState != "42703" {
		t.Fatalf("native = %+v", native)
	}
	if native.Message != `column "amt" does not exist: hint detail` {
		t.Fatalf("Message = %q", native.Message)
	}
}

func TestDescribeIgnoresForeignErrors(t *testing.T) {
	if _, ok := describe(errors.New("boom")); ok {
		t.Fatal("describe() should not recognise plain errors")
	}
}

func TestDialectDefaultsToPublicSchema(t *testing.T) {
	d := Dialect(0)
	if got := d.SchemaName(engine.Target{}); got != "public" {
		t.Fatalf("SchemaName() = %q", got)
	}
	if got := d.SchemaName(engine.Target{Schema: "sales"}); got != "sales" {
		t.Fatalf("SchemaName() = %q", got)
	}
}
