package duckdb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/storage"
)

const resultKey = "results/3/7/result-1.parquet"

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Delete(context.Context, string) error {
	return nil
}

func archivedStore(t *testing.T, count int) *memoryStore {
	t.Helper()
	rows := make([]engine.Row, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, engine.Row{"n": i, "label": "row"})
	}
	encoded, err := archive.EncodeRows([]string{"n", "label"}, rows)
	if err != nil {
		t.Fatalf("EncodeRows() error = %v", err)
	}
	return &memoryStore{objects: map[string][]byte{resultKey: encoded.Data}}
}

func TestReadPagesThroughArchivedRows(t *testing.T) {
	reader := NewReader(archivedStore(t, 25))

	page, err := reader.Read(context.Background(), resultKey, 10, 20)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if page.Total != 25 || page.Limit != 10 || page.Offset != 20 {
		t.Fatalf("page window = %+v", page)
	}
	if len(page.Rows) != 5 {
		t.Fatalf("rows = %d", len(page.Rows))
	}
	if page.Rows[0]["n"] != json.Number("20") || page.Rows[4]["n"] != json.Number("24") {
		t.Fatalf("rows = %+v", page.Rows)
	}
	if len(page.Columns) != 2 || page.Columns[0] != "n" {
		t.Fatalf("columns = %v", page.Columns)
	}
}

func TestReadDefaultsWindow(t *testing.T) {
	page, err := NewReader(archivedStore(t, 3)).Read(context.Background(), resultKey, 0, -5)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if page.Limit != DefaultPageSize || page.Offset != 0 || len(page.Rows) != 3 {
		t.Fatalf("page = %+v", page)
	}
}

func TestReadMissingObjectIsNotFound(t *testing.T) {
	_, err := NewReader(&memoryStore{}).Read(context.Background(), resultKey, 10, 0)
	if got := apperr.KindOf(err); got != apperr.KindNotFound {
		t.Fatalf("KindOf() = %q, err = %v", got, err)
	}
}

func TestReadRejectsForeignKey(t *testing.T) {
	_, err := NewReader(&memoryStore{}).Read(context.Background(), "../etc/passwd", 10, 0)
	if got := apperr.KindOf(err); got != apperr.KindValidation {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestClampWindow(t *testing.T) {
	if limit, offset := clampWindow(5000, 3); limit != MaxPageSize || offset != 3 {
		t.Fatalf("clampWindow() = %d, %d", limit, offset)
	}
}
