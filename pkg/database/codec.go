package database

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var registerOnce sync.Once

// RegisterGobTypes registers every normalised row value type so rows held
// as map[string]any survive a gob round trip.
func RegisterGobTypes() {
	registerOnce.Do(func() {
		gob.Register(decimal.Decimal{})
		gob.Register(time.Time{})
		gob.Register(Interval{})
		gob.Register(TimeOfDay{})
		gob.Register(map[string]any{})
		gob.Register([]any{})
	})
}

type encodedResult struct {
	Columns  []Column
	Rows     []map[string]any
	RowCount int
}

// EncodeResult serialises a successful result for the cache.
func EncodeResult(r *QueryResult) ([]byte, error) {
	RegisterGobTypes()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(encodedResult{Columns: r.Columns, Rows: r.Rows, RowCount: r.RowCount}); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResult is the inverse of EncodeResult.
func DecodeResult(b []byte) (*QueryResult, error) {
	RegisterGobTypes()
	var er encodedResult
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if er.Rows == nil {
		er.Rows = make([]map[string]any, 0)
	}
	return &QueryResult{Columns: er.Columns, Rows: er.Rows, RowCount: er.RowCount}, nil
}
