package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Column struct {
	Name     string `json:"column_name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"-"`
}

type Table struct {
	Name    string
	Columns []Column
}

// Snapshot is a point-in-time copy of a database's table and column metadata.
// Tables are in lexical order and columns in declared order.
type Snapshot struct {
	Tables []Table
}

func (s Snapshot) Empty() bool {
	return len(s.Tables) == 0
}

// Mapping returns the table name to columns view of the snapshot.
func (s Snapshot) Mapping() map[string][]Column {
	out := make(map[string][]Column, len(s.Tables))
	for _, table := range s.Tables {
		columns := make([]Column, len(table.Columns))
		copy(columns, table.Columns)
		out[table.Name] = columns
	}
	return out
}

type columnJSON struct {
	Name       string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"`
}

// MarshalJSON renders {"table":[{"column_name","data_type","is_nullable"}]}
// keeping table order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, table := range s.Tables {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(table.Name)
		if err != nil {
			return nil, fmt.Errorf("marshal table name: %w", err)
		}
		buf.Write(name)
		buf.WriteByte(':')

		columns := make([]columnJSON, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, columnJSON{
				Name:       column.Name,
				DataType:   column.DataType,
				IsNullable: yesNo(column.Nullable),
			})
		}
		body, err := json.Marshal(columns)
		if err != nil {
			return nil, fmt.Errorf("marshal columns for %q: %w", table.Name, err)
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode snapshot: expected object")
	}

	tables := make([]Table, 0)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("decode snapshot table name: %w", err)
		}
		name, ok := token.(string)
		if !ok {
			return fmt.Errorf("decode snapshot: expected table name")
		}
		var columns []columnJSON
		if err := decoder.Decode(&columns); err != nil {
			return fmt.Errorf("decode columns for %q: %w", name, err)
		}
		table := Table{Name: name, Columns: make([]Column, 0, len(columns))}
		for _, column := range columns {
			table.Columns = append(table.Columns, Column{
				Name:     column.Name,
				DataType: column.DataType,
				Nullable: ParseNullable(column.IsNullable),
			})
		}
		tables = append(tables, table)
	}
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	s.Tables = tables
	return nil
}

// ParseNullable reads information_schema's YES/NO convention.
func ParseNullable(value string) bool {
	switch value {
	case "YES", "yes", "Yes", "Y", "y", "true", "TRUE", "1":
		return true
	default:
		return false
	}
}

func yesNo(value bool) string {
	if value {
		return "YES"
	}
	return "NO"
}
