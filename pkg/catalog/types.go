package catalog

import "strings"

// DataType is the coarse type class the pipeline reasons about.
type DataType int

const (
	TypeOther DataType = iota
	TypeText
	TypeInteger
	TypeFloat
	TypeTimestamp
	TypeInterval
)

func (d DataType) String() string {
	switch d {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeTimestamp:
		return "timestamp"
	case TypeInterval:
		return "interval"
	}
	return "other"
}

// MarshalText renders the type class by name in JSON.
func (d DataType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Label is the tag shown next to a column in prompts.
func (d DataType) Label() string {
	switch d {
	case TypeText:
		return "TEXT"
	case TypeInteger, TypeFloat:
		return "NUMERIC"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeInterval:
		return "INTERVAL"
	}
	return "OTHER"
}

// Numeric reports whether values of this type can be summed or averaged.
func (d DataType) Numeric() bool {
	return d == TypeInteger || d == TypeFloat
}

// ClassifyType maps a Postgres type name, as reported by
// information_schema.columns.data_type or format_type, onto a DataType.
func ClassifyType(pgType string) DataType {
	t := strings.ToLower(strings.TrimSpace(pgType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimSuffix(t, "[]")

	switch t {
	case "text", "character varying", "varchar", "character", "char", "bpchar", "name", "citext":
		return TypeText
	case "smallint", "integer", "bigint", "int", "int2", "int4", "int8", "smallserial", "serial", "bigserial":
		return TypeInteger
	case "real", "double precision", "float4", "float8", "numeric", "decimal", "money":
		return TypeFloat
	case "date", "time", "timetz", "timestamp", "timestamptz",
		"time without time zone", "time with time zone",
		"timestamp without time zone", "timestamp with time zone":
		return TypeTimestamp
	case "interval":
		return TypeInterval
	}
	return TypeOther
}
