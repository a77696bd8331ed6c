package engine

import (
	"context"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/schema"
)

type Kind string

const (
	KindMySQL      Kind = "mysql"
	KindPostgreSQL Kind = "postgresql"
)

// DefaultPort is the well-known listening port of each engine.
func (k Kind) DefaultPort() int {
	switch k {
	case KindMySQL:
		return 3306
	case KindPostgreSQL:
		return 5432
	default:
		return 0
	}
}

// Dialect is the SQL dialect name used in prompts.
func (k Kind) Dialect() string {
	switch k {
	case KindPostgreSQL:
		return "PostgreSQL"
	default:
		return "MySQL"
	}
}

func ParseKind(raw string) (Kind, bool) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindMySQL, KindPostgreSQL:
		return kind, true
	default:
		return "", false
	}
}

// Target holds everything needed to open a connection to a registered database.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Schema scopes PostgreSQL introspection. Empty means public.
	Schema string
}

type Row map[string]any

type Result struct {
	Columns   []string
	Rows      []Row
	Truncated bool
}

// Engine is implemented once per database technology. Every call opens its own
// short-lived connection and closes it before returning.
type Engine interface {
	Kind() Kind
	Introspect(ctx context.Context, target Target) (schema.Snapshot, error)
	Run(ctx context.Context, target Target, statement string) (Result, error)
}

// Set is the closed registry of engines available to the process.
type Set struct {
	engines map[Kind]Engine
}

func NewSet(engines ...Engine) Set {
	set := Set{engines: make(map[Kind]Engine, len(engines))}
	for _, e := range engines {
		if e == nil {
			continue
		}
		set.engines[e.Kind()] = e
	}
	return set
}

func (s Set) For(kind Kind) (Engine, error) {
	e, ok := s.engines[kind]
	if !ok {
		return nil, apperr.UnsupportedEngine(string(kind))
	}
	return e, nil
}
