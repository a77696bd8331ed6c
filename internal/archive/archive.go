// Package archive keeps the full row set of an answer in the object store so
// it can be paged later without re-running the statement.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/storage"
)

type Request struct {
	ConnectionID   int64
	ConversationID int64
	Columns        []string
	Rows           []engine.Row
}

// Page is a window over an archived result.
type Page struct {
	Columns []string     `json:"columns"`
	Rows    []engine.Row `json:"rows"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// Reader pages through an archived result by key.
type Reader interface {
	Read(ctx context.Context, key string, limit, offset int) (Page, error)
}

type Archiver struct {
	store  storage.ObjectStore
	newID  func() string
	logger *slog.Logger
}

func New(store storage.ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, newID: uuid.NewString, logger: logger}
}

// Archive stores the rows and returns the object key.
func (a *Archiver) Archive(ctx context.Context, req Request) (string, error) {
	key, err := a.archive(ctx, req)
	observability.ObserveArchivedResult(err)
	if err != nil {
		return "", err
	}
	a.logger.DebugContext(ctx, "result archived",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("key", key),
		slog.Int("rows", len(req.Rows)),
	)
	return key, nil
}

func (a *Archiver) archive(ctx context.Context, req Request) (string, error) {
	key, err := storage.BuildResultPath(req.ConnectionID, req.ConversationID, a.newID())
	if err != nil {
		return "", fmt.Errorf("build result path: %w", err)
	}
	encoded, err := EncodeRows(req.Columns, req.Rows)
	if err != nil {
		return "", err
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: storage.ContentTypeParquet,
	}); err != nil {
		return "", fmt.Errorf("store archived result: %w", err)
	}
	return key, nil
}
