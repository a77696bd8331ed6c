// Package registry validates, probes and stores connections to external
// databases and resolves them back into engine targets.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

type Repository interface {
	CreateConnection(ctx context.Context, in catalog.CreateConnectionInput) (catalog.Connection, error)
	GetConnection(ctx context.Context, connectionID int64) (catalog.Connection, error)
	ListConnectionsForOwner(ctx context.Context, ownerUserID string) ([]catalog.Connection, error)
}

type Capturer interface {
	Capture(ctx context.Context, kind engine.Kind, target engine.Target) (schema.Snapshot, error)
}

// Params is the raw registration request. Port is accepted as a JSON number
// or a numeric string.
type Params struct {
	Engine      string
	Host        string
	Port        any
	User        string
	Password    string
	Database    string
	OwnerUserID string
}

type Registration struct {
	Connection catalog.Connection
	Snapshot   schema.Snapshot
}

type Registry struct {
	repo     Repository
	capturer Capturer
	logger   *slog.Logger
}

func New(repo Repository, capturer Capturer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, capturer: capturer, logger: logger}
}

// Register validates params, probes the database by capturing its schema and
// stores the connection with that snapshot. The returned connection is redacted.
func (r *Registry) Register(ctx context.Context, params Params) (Registration, error) {
	kind, target, err := Validate(params)
	if err != nil {
		return Registration{}, err
	}

	snapshot, err := r.capturer.Capture(ctx, kind, target)
	if err != nil {
		r.logger.WarnContext(ctx, "connection probe failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("engine", string(kind)),
			slog.String("host", target.Host),
			slog.Int("port", target.Port),
			slog.String("error_code", codeOf(err)),
		)
		return Registration{}, err
	}

	conn, err := r.repo.CreateConnection(ctx, catalog.CreateConnectionInput{
		OwnerUserID: strings.TrimSpace(params.OwnerUserID),
		Engine:      string(kind),
		Host:        target.Host,
		Port:        target.Port,
		User:        target.User,
		Password:    target.Password,
		Database:    target.Database,
		Snapshot:    snapshot,
	})
	if err != nil {
		return Registration{}, fmt.Errorf("store connection: %w", err)
	}
	observability.ObserveConnectionRegistered(string(kind))
	r.logger.InfoContext(ctx, "connection registered",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int64("connection_id", conn.ConnectionID),
		slog.String("engine", string(kind)),
		slog.Int("tables", len(snapshot.Tables)),
	)
	return Registration{Connection: conn.Redacted(), Snapshot: snapshot}, nil
}

// Resolve returns the stored connection including its password. It is meant
// for the sandbox and must not be handed to callers as is.
func (r *Registry) Resolve(ctx context.Context, connectionID int64) (catalog.Connection, error) {
	conn, err := r.repo.GetConnection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Connection{}, apperr.NotFound("CONNECTION_NOT_FOUND", fmt.Sprintf("connection %d not found", connectionID))
		}
		return catalog.Connection{}, fmt.Errorf("resolve connection: %w", err)
	}
	return conn, nil
}

// ResolveForOwner behaves like Resolve but hides connections owned by someone
// else. An anonymous caller, userID "", only reaches unowned connections.
func (r *Registry) ResolveForOwner(ctx context.Context, connectionID int64, userID string) (catalog.Connection, error) {
	conn, err := r.Resolve(ctx, connectionID)
	if err != nil {
		return catalog.Connection{}, err
	}
	if conn.OwnerUserID != userID {
		return catalog.Connection{}, apperr.NotFound("CONNECTION_NOT_FOUND", fmt.Sprintf("connection %d not found", connectionID))
	}
	return conn, nil
}

func (r *Registry) ListForOwner(ctx context.Context, userID string) ([]catalog.Connection, error) {
	connections, err := r.repo.ListConnectionsForOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	out := make([]catalog.Connection, 0, len(connections))
	for _, conn := range connections {
		out = append(out, conn.Redacted())
	}
	return out, nil
}

// TargetOf turns a stored connection into an engine target.
func TargetOf(conn catalog.Connection) (engine.Kind, engine.Target, error) {
	kind, ok := engine.ParseKind(conn.Engine)
	if !ok {
		return "", engine.Target{}, apperr.UnsupportedEngine(conn.Engine)
	}
	return kind, engine.Target{
		Host:     conn.Host,
		Port:     conn.Port,
		User:     conn.User,
		Password: conn.Password,
		Database: conn.Database,
	}, nil
}

// Validate normalizes params. Field checks run in declaration order so the
// first problem reported is stable.
func Validate(params Params) (engine.Kind, engine.Target, error) {
	rawEngine, err := requireString("db_type", params.Engine)
	if err != nil {
		return "", engine.Target{}, err
	}
	host, err := requireString("host", params.Host)
	if err != nil {
		return "", engine.Target{}, err
	}
	port, err := parsePort(params.Port)
	if err != nil {
		return "", engine.Target{}, err
	}
	user, err := requireString("user", params.User)
	if err != nil {
		return "", engine.Target{}, err
	}
	if strings.TrimSpace(params.Password) == "" {
		return "", engine.Target{}, apperr.Validation("INVALID_PASSWORD", "password is required")
	}
	database, err := requireString("database", params.Database)
	if err != nil {
		return "", engine.Target{}, err
	}

	kind, ok := engine.ParseKind(rawEngine)
	if !ok {
		return "", engine.Target{}, apperr.UnsupportedEngine(rawEngine)
	}
	if other, swapped := swappedDefaultPort(kind, port); swapped {
		return "", engine.Target{}, &apperr.Error{
			Kind:    apperr.KindLikelyWrongEngine,
			Code:    "LIKELY_WRONG_ENGINE",
			Message: fmt.Sprintf("port %d is the default %s port; did you mean db_type %q?", port, other, other),
			Engine:  string(kind),
		}
	}

	return kind, engine.Target{
		Host:     host,
		Port:     port,
		User:     user,
		Password: params.Password,
		Database: database,
	}, nil
}

func swappedDefaultPort(kind engine.Kind, port int) (engine.Kind, bool) {
	for _, other := range []engine.Kind{engine.KindMySQL, engine.KindPostgreSQL} {
		if other != kind && port == other.DefaultPort() {
			return other, true
		}
	}
	return "", false
}

func requireString(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", apperr.Validation("INVALID_"+strings.ToUpper(field), field+" is required")
	}
	return trimmed, nil
}

func parsePort(raw any) (int, error) {
	invalid := apperr.Validation("INVALID_PORT", "port must be a valid integer between 1 and 65535")

	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, invalid
		}
		n = int64(v)
	case json.Number:
		parsed, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return 0, invalid
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, invalid
		}
		n = parsed
	default:
		return 0, invalid
	}
	if n < 1 || n > 65535 {
		return 0, invalid
	}
	return int(n), nil
}

func codeOf(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Code
	}
	return ""
}
