// Package sandbox runs a single read-only statement against a registered
// connection over a connection that lives only as long as the statement.
package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/registry"
)

type Resolver interface {
	Resolve(ctx context.Context, connectionID int64) (catalog.Connection, error)
}

type Sandbox struct {
	resolver Resolver
	engines  engine.Set
	logger   *slog.Logger
}

func New(resolver Resolver, engines engine.Set, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{resolver: resolver, engines: engines, logger: logger}
}

// Execute checks the statement policy first and only then resolves the
// connection and dispatches to its engine.
func (s *Sandbox) Execute(ctx context.Context, connectionID int64, statement string) (engine.Result, error) {
	if err := CheckStatement(statement); err != nil {
		return engine.Result{}, err
	}

	conn, err := s.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return engine.Result{}, err
	}
	kind, target, err := registry.TargetOf(conn)
	if err != nil {
		return engine.Result{}, err
	}
	e, err := s.engines.For(kind)
	if err != nil {
		return engine.Result{}, err
	}

	start := time.Now()
	result, err := e.Run(ctx, target, statement)
	observability.ObserveSandboxExecution(string(kind), err)
	s.logger.DebugContext(ctx, "sandbox execution",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int64("connection_id", connectionID),
		slog.String("engine", string(kind)),
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.String("duration", time.Since(start).String()),
		slog.Bool("failed", err != nil),
	)
	if err != nil {
		return engine.Result{}, err
	}
	return result, nil
}
