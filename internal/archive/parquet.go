package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/engine"
)

const columnsMetadataKey = "columns_json"

type parquetRow struct {
	RowIndex int64  `parquet:"row_index"`
	RowJSON  string `parquet:"row_json"`
}

type EncodeResult struct {
	Data        []byte
	RecordCount int64
}

// EncodeRows writes one parquet row per result row. Column order survives in
// the file's key/value metadata since rows are stored as JSON objects.
func EncodeRows(columns []string, rows []engine.Row) (EncodeResult, error) {
	if columns == nil {
		columns = []string{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("marshal columns: %w", err)
	}

	encoded := make([]parquetRow, 0, len(rows))
	for i, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("marshal row %d: %w", i, err)
		}
		encoded = append(encoded, parquetRow{RowIndex: int64(i), RowJSON: string(payload)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf, parquet.KeyValueMetadata(columnsMetadataKey, string(columnsJSON)))
	if len(encoded) > 0 {
		if _, err := writer.Write(encoded); err != nil {
			return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RecordCount: int64(len(encoded))}, nil
}

// ReadColumns returns the column order recorded by EncodeRows.
func ReadColumns(r io.ReaderAt, size int64) ([]string, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	raw, ok := file.Lookup(columnsMetadataKey)
	if !ok {
		return []string{}, nil
	}
	var columns []string
	if err := json.Unmarshal([]byte(raw), &columns); err != nil {
		return nil, fmt.Errorf("decode columns metadata: %w", err)
	}
	return columns, nil
}

// DecodeRow turns a stored row back into a result row. Numbers keep their
// original text.
func DecodeRow(rowJSON string) (engine.Row, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(rowJSON)))
	decoder.UseNumber()
	row := engine.Row{}
	if err := decoder.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode archived row: %w", err)
	}
	return row, nil
}
