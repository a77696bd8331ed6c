// Package duckdb pages archived results with DuckDB's read_parquet over a
// local copy of the object.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/storage"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

type Reader struct {
	Store storage.ObjectStore
}

var _ archive.Reader = (*Reader)(nil)

func NewReader(store storage.ObjectStore) *Reader {
	return &Reader{Store: store}
}

func (r *Reader) Read(ctx context.Context, key string, limit, offset int) (archive.Page, error) {
	if err := storage.ValidateResultPath(key); err != nil {
		return archive.Page{}, apperr.Validation("INVALID_RESULT_KEY", err.Error())
	}
	if r.Store == nil {
		return archive.Page{}, fmt.Errorf("object store is required")
	}
	limit, offset = clampWindow(limit, offset)

	workDir, err := os.MkdirTemp("", "askdb-result-")
	if err != nil {
		return archive.Page{}, fmt.Errorf("create result temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, "result.parquet")
	if err := r.download(ctx, key, localPath); err != nil {
		return archive.Page{}, err
	}
	columns, err := readColumns(localPath)
	if err != nil {
		return archive.Page{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return archive.Page{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	source := fmt.Sprintf("read_parquet(%s)", quoteString(localPath))
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+source).Scan(&total); err != nil {
		return archive.Page{}, fmt.Errorf("count archived rows: %w", err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT row_json FROM %s ORDER BY row_index LIMIT %d OFFSET %d`, source, limit, offset))
	if err != nil {
		return archive.Page{}, fmt.Errorf("query archived rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := archive.Page{Columns: columns, Rows: make([]engine.Row, 0), Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return archive.Page{}, fmt.Errorf("scan archived row: %w", err)
		}
		row, err := archive.DecodeRow(rowJSON)
		if err != nil {
			return archive.Page{}, err
		}
		page.Rows = append(page.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return archive.Page{}, fmt.Errorf("iterate archived rows: %w", err)
	}
	return page, nil
}

func (r *Reader) download(ctx context.Context, key, localPath string) error {
	reader, err := r.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return apperr.NotFound("RESULT_NOT_FOUND", fmt.Sprintf("archived result %q not found", key))
		}
		return fmt.Errorf("get object %q: %w", key, err)
	}
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close object %q: %w", key, err)
	}
	return nil
}

func readColumns(localPath string) ([]string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open local parquet file: %w", err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat local parquet file: %w", err)
	}
	return archive.ReadColumns(file, info.Size())
}

func clampWindow(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
