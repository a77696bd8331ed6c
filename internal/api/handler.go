package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

type ConnectionService interface {
	Register(ctx context.Context, params registry.Params) (registry.Registration, error)
	ListForOwner(ctx context.Context, userID string) ([]catalog.Connection, error)
	ResolveForOwner(ctx context.Context, connectionID int64, userID string) (catalog.Connection, error)
}

type SnapshotReader interface {
	Retrieve(ctx context.Context, connectionID int64) (schema.Snapshot, error)
}

type Asker interface {
	Ask(ctx context.Context, q pipeline.Question) (pipeline.Answer, error)
}

type ConversationService interface {
	List(ctx context.Context, userID string, connectionID int64) ([]catalog.Conversation, error)
	Messages(ctx context.Context, conversationID int64, userID string) ([]catalog.Message, error)
	Message(ctx context.Context, messageID int64, userID string) (catalog.Message, error)
	Delete(ctx context.Context, conversationID int64, userID string) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Connections       ConnectionService
	Snapshots         SnapshotReader
	Pipeline          Asker
	Conversations     ConversationService
	// Results is nil when result archiving is disabled.
	Results archive.Reader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleRegisterConnection(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{id}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleConnectionSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("GET /v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		handleListConversations(deps, w, r)
	})
	protected.HandleFunc("GET /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		handleListMessages(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteConversation(deps, w, r)
	})
	protected.HandleFunc("GET /v1/messages/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		handleMessageResult(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	} else if deps.AuthMiddleware != nil {
		protectedHandler = deps.AuthMiddleware(protectedHandler)
	}
	mux.Handle("POST /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections/{id}/schema", protectedHandler)
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("GET /v1/conversations", protectedHandler)
	mux.Handle("GET /v1/conversations/{id}/messages", protectedHandler)
	mux.Handle("DELETE /v1/conversations/{id}", protectedHandler)
	mux.Handle("GET /v1/messages/{id}/result", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

// CheckFunc adapts a ping-style dependency into a readiness check.
func CheckFunc(name string, ping func(ctx context.Context) error) ReadinessCheck {
	if ping == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeFailure renders err in the error envelope. Errors outside the apperr
// taxonomy are logged and reported as INTERNAL_ERROR without their details.
func writeFailure(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "request failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", true, nil)
		return
	}

	var extra map[string]any
	if appErr.Engine != "" || appErr.SQLState != "" {
		extra = map[string]any{}
		if appErr.Engine != "" {
			extra["engine"] = appErr.Engine
		}
		if appErr.SQLState != "" {
			extra["sql_state"] = appErr.SQLState
		}
	}
	code := appErr.Code
	if code == "" {
		code = strings.ToUpper(string(appErr.Kind))
	}
	status := statusOf(appErr.Kind)
	writeError(r.Context(), w, status, code, appErr.Message, retryable(appErr.Kind), extra)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindLikelyWrongEngine, apperr.KindUnsupportedEngine:
		return http.StatusBadRequest
	case apperr.KindStatementNotAllowed:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConnection, apperr.KindIntrospection, apperr.KindModel:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func retryable(kind apperr.Kind) bool {
	switch kind {
	case apperr.KindConnection, apperr.KindIntrospection, apperr.KindModel, apperr.KindInternal:
		return true
	default:
		return false
	}
}
