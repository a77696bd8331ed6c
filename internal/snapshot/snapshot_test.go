package snapshot

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/schema"
)

type fakeEngine struct {
	kind     engine.Kind
	snapshot schema.Snapshot
	err      error
	targets  []engine.Target
}

func (f *fakeEngine) Kind() engine.Kind { return f.kind }

func (f *fakeEngine) Introspect(_ context.Context, target engine.Target) (schema.Snapshot, error) {
	f.targets = append(f.targets, target)
	return f.snapshot, f.err
}

func (f *fakeEngine) Run(context.Context, engine.Target, string) (engine.Result, error) {
	return engine.Result{}, errors.New("not used")
}

// memoryRepo stores snapshots the way the catalog does: as flat table and
// column rows that are reassembled on read.
type memoryRepo struct {
	rows map[int64][]row
	err  error
}

type row struct {
	table  string
	column schema.Column
	empty  bool
}

func (m *memoryRepo) SaveSchemaSnapshot(_ context.Context, connectionID int64, snapshot schema.Snapshot) error {
	if m.err != nil {
		return m.err
	}
	if m.rows == nil {
		m.rows = map[int64][]row{}
	}
	flat := make([]row, 0)
	for _, table := range snapshot.Tables {
		if len(table.Columns) == 0 {
			flat = append(flat, row{table: table.Name, empty: true})
		}
		for _, column := range table.Columns {
			flat = append(flat, row{table: table.Name, column: column})
		}
	}
	m.rows[connectionID] = flat
	return nil
}

func (m *memoryRepo) GetSchemaSnapshot(_ context.Context, connectionID int64) (schema.Snapshot, error) {
	if m.err != nil {
		return schema.Snapshot{}, m.err
	}
	var out schema.Snapshot
	for _, r := range m.rows[connectionID] {
		last := len(out.Tables) - 1
		if last < 0 || out.Tables[last].Name != r.table {
			out.Tables = append(out.Tables, schema.Table{Name: r.table, Columns: []schema.Column{}})
			last++
		}
		if !r.empty {
			out.Tables[last].Columns = append(out.Tables[last].Columns, r.column)
		}
	}
	return out, nil
}

func TestCaptureDispatchesByEngineKind(t *testing.T) {
	mysqlEngine := &fakeEngine{kind: engine.KindMySQL, snapshot: schema.Snapshot{Tables: []schema.Table{{Name: "orders"}}}}
	pgEngine := &fakeEngine{kind: engine.KindPostgreSQL}
	store := NewStore(engine.NewSet(mysqlEngine, pgEngine), &memoryRepo{})

	target := engine.Target{Host: "db", Port: 3306, Database: "shop"}
	snapshot, err := store.Capture(context.Background(), engine.KindMySQL, target)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(snapshot.Tables) != 1 || snapshot.Tables[0].Name != "orders" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if len(mysqlEngine.targets) != 1 || len(pgEngine.targets) != 0 {
		t.Fatalf("dispatch mysql=%d pg=%d", len(mysqlEngine.targets), len(pgEngine.targets))
	}
}

func TestCaptureUnknownEngine(t *testing.T) {
	store := NewStore(engine.NewSet(), &memoryRepo{})
	_, err := store.Capture(context.Background(), engine.Kind("oracle"), engine.Target{})
	if got := apperr.KindOf(err); got != apperr.KindUnsupportedEngine {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestCapturePropagatesConnectionError(t *testing.T) {
	failing := &fakeEngine{kind: engine.KindPostgreSQL, err: apperr.New(apperr.KindConnection, "CONNECTION_FAILED", "refused")}
	store := NewStore(engine.NewSet(failing), &memoryRepo{})
	_, err := store.Capture(context.Background(), engine.KindPostgreSQL, engine.Target{})
	if got := apperr.KindOf(err); got != apperr.KindConnection {
		t.Fatalf("KindOf() = %q", got)
	}
}

func TestPersistThenRetrieveRoundTrip(t *testing.T) {
	captured := schema.Snapshot{Tables: []schema.Table{
		{Name: "customers", Columns: []schema.Column{
			{Name: "id", DataType: "integer"},
			{Name: "email", DataType: "text", Nullable: true},
		}},
		{Name: "audit", Columns: []schema.Column{}},
		{Name: "sales", Columns: []schema.Column{
			{Name: "amount", DataType: "numeric"},
			{Name: "created_at", DataType: "timestamp"},
		}},
	}}
	source := &fakeEngine{kind: engine.KindPostgreSQL, snapshot: captured}
	store := NewStore(engine.NewSet(source), &memoryRepo{})
	ctx := context.Background()

	snapshot, err := store.Capture(ctx, engine.KindPostgreSQL, engine.Target{})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if err := store.Persist(ctx, 4, snapshot); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	got, err := store.Retrieve(ctx, 4)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !reflect.DeepEqual(got.Mapping(), captured.Mapping()) {
		t.Fatalf("Retrieve() = %+v, want %+v", got, captured)
	}
	if !reflect.DeepEqual(got, captured) {
		t.Fatalf("table order changed: %+v", got)
	}
}

func TestRetrieveMissingIsEmpty(t *testing.T) {
	store := NewStore(engine.NewSet(), &memoryRepo{})
	snapshot, err := store.Retrieve(context.Background(), 99)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !snapshot.Empty() || snapshot.Tables == nil {
		t.Fatalf("snapshot = %#v", snapshot)
	}
}

func TestRetrieveWrapsRepositoryFailure(t *testing.T) {
	boom := errors.New("catalog down")
	store := NewStore(engine.NewSet(), &memoryRepo{err: boom})
	if _, err := store.Retrieve(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("Retrieve() error = %v", err)
	}
}
