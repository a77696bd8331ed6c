package api

import (
	"net/http"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/registry"
)

type registerConnectionRequest struct {
	DBType   string `json:"db_type"`
	Host     string `json:"host"`
	Port     any    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type connectionView struct {
	ConnectionID int64     `json:"id"`
	DBType       string    `json:"db_type"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	User         string    `json:"user"`
	Password     string    `json:"password"`
	Database     string    `json:"database"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newConnectionView(conn catalog.Connection) connectionView {
	conn = conn.Redacted()
	return connectionView{
		ConnectionID: conn.ConnectionID,
		DBType:       conn.Engine,
		Host:         conn.Host,
		Port:         conn.Port,
		User:         conn.User,
		Password:     conn.Password,
		Database:     conn.Database,
		CreatedAt:    conn.CreatedAt,
		UpdatedAt:    conn.UpdatedAt,
	}
}

func handleRegisterConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}

	var req registerConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return
	}

	registration, err := deps.Connections.Register(r.Context(), registry.Params{
		Engine:      req.DBType,
		Host:        req.Host,
		Port:        req.Port,
		User:        req.User,
		Password:    req.Password,
		Database:    req.Database,
		OwnerUserID: auth.UserIDFromContext(r.Context()),
	})
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"connection": newConnectionView(registration.Connection),
		"schema":     registration.Snapshot,
	})
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	connections, err := deps.Connections.ListForOwner(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	items := make([]connectionView, 0, len(connections))
	for _, conn := range connections {
		items = append(items, newConnectionView(conn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": items})
}

func handleConnectionSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil || deps.Snapshots == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection registry is not configured", false, nil)
		return
	}
	connectionID, ok := pathID(r, "id")
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection id must be a positive integer", false, nil)
		return
	}
	if _, err := deps.Connections.ResolveForOwner(r.Context(), connectionID, auth.UserIDFromContext(r.Context())); err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	snapshot, err := deps.Snapshots.Retrieve(r.Context(), connectionID)
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": connectionID,
		"schema":        snapshot,
	})
}
