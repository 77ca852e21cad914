package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
)

// MaxRows bounds how many rows a single statement may return to the pipeline.
const MaxRows = 50

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the outcome of one executed statement. Row values are
// normalised into plain Go types (see normalizeValue) so results can be
// cached, persisted and formatted without pgx types leaking upward.
type QueryResult struct {
	Columns  []Column         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`

	// Failure is set when a non-retryable, non-permission error was
	// swallowed into an empty result.
	Failure *apperrors.Error `json:"-"`
}

// ColumnNames returns the column names in order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Empty reports whether the result carries no rows.
func (r *QueryResult) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// Interval is a Postgres interval.
type Interval struct {
	Months       int32
	Days         int32
	Microseconds int64
}

// Duration approximates the interval, counting a month as 30 days.
func (i Interval) Duration() time.Duration {
	days := int64(i.Months)*30 + int64(i.Days)
	return time.Duration(days)*24*time.Hour + time.Duration(i.Microseconds)*time.Microsecond
}

// TimeOfDay is a Postgres time without date.
type TimeOfDay struct {
	Microseconds int64
}

// Clock splits the time of day into hours, minutes and seconds.
func (t TimeOfDay) Clock() (h, m, s int) {
	total := t.Microseconds / 1_000_000
	return int(total / 3600), int(total % 3600 / 60), int(total % 60)
}

func collectRows(rows pgx.Rows) (*QueryResult, error) {
	fieldDescs := rows.FieldDescriptions()
	columns := make([]Column, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = Column{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col.Name] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// normalizeValue maps pgx decoded values onto the small set of types the
// rest of the pipeline understands.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64, time.Time, decimal.Decimal, Interval, TimeOfDay:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		return numericValue(x)
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		return Interval{Months: x.Months, Days: x.Days, Microseconds: x.Microseconds}
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		return TimeOfDay{Microseconds: x.Microseconds}
	case map[string]any, []any:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func numericValue(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	dv, err := n.Value()
	if err != nil {
		return nil
	}
	s := fmt.Sprint(dv)
	d, err := decimal.NewFromString(s)
	if err != nil {
		// NaN and infinities have no decimal form.
		return s
	}
	return d
}

// pgTypeNameFromOID maps common PostgreSQL OIDs to type names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 18, 25, 1042, 1043:
		return "TEXT"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 114, 3802:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1082:
		return "DATE"
	case 1083, 1266:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	default:
		return "UNKNOWN"
	}
}
