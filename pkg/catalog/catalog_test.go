package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog/catalogtest"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
)

func TestClassifyType(t *testing.T) {
	tests := map[string]catalog.DataType{
		"text":                        catalog.TypeText,
		"character varying(50)":       catalog.TypeText,
		"character":                   catalog.TypeText,
		"integer":                     catalog.TypeInteger,
		"bigint":                      catalog.TypeInteger,
		"numeric(12,2)":               catalog.TypeFloat,
		"double precision":            catalog.TypeFloat,
		"timestamp without time zone": catalog.TypeTimestamp,
		"date":                        catalog.TypeTimestamp,
		"interval":                    catalog.TypeInterval,
		"jsonb":                       catalog.TypeOther,
		"uuid":                        catalog.TypeOther,
	}
	for pg, want := range tests {
		assert.Equal(t, want, catalog.ClassifyType(pg), pg)
	}
}

func TestCatalog_Lookups(t *testing.T) {
	c := catalogtest.Fleet()

	q, ok := c.Resolve("vehicle_master")
	require.True(t, ok)
	assert.Equal(t, "public.vehicle_master", q)

	_, ok = c.Resolve("stoppage_report")
	assert.False(t, ok)

	assert.True(t, c.HasColumn("public.distance_report", "distance"))
	assert.True(t, c.HasColumn("DISTANCE_REPORT", "Drum_Rotation"))
	assert.False(t, c.HasColumn("distance_report", "distance_km"))

	dt, ok := c.Type("public.crm_complaint_dtls.liability")
	require.True(t, ok)
	assert.Equal(t, catalog.TypeFloat, dt)
	assert.True(t, c.IsNumeric("crm_complaint_dtls.liability"))
	assert.False(t, c.IsNumeric("trip_report.total_amount"))
	assert.False(t, c.IsNumeric("trip_report.nope"))

	assert.Equal(t, []string{"id_no"}, c.PK("crm_complaint_dtls"))
	fks := c.FKs("vehicle_master")
	require.Len(t, fks, 1)
	assert.Equal(t, "public.hosp_master", fks[0].RefTable)

	assert.Len(t, c.Tables(), 12)
	assert.Contains(t, c.TableNames(), "public.util_report")
}

func TestCatalog_Describe(t *testing.T) {
	c := catalogtest.Fleet()
	assert.Equal(t,
		"public.zone_master(id [NUMERIC], name [TEXT])",
		c.Describe("zone_master"))
	assert.Contains(t, c.Describe("util_report"), "duration [INTERVAL]")
	assert.Empty(t, c.Describe("nope"))
}

func TestColumn_JSONType(t *testing.T) {
	col := catalogtest.Fleet().Columns("trip_report")[5]
	b, err := json.Marshal(col)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"interval"`)
}

type fakeQuerier struct {
	results map[string]*database.QueryResult
	err     error
	calls   int
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (*database.QueryResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for marker, res := range f.results {
		if strings.Contains(sql, marker) {
			return res, nil
		}
	}
	return &database.QueryResult{}, nil
}

func introspectionResults(tables ...string) map[string]*database.QueryResult {
	cols := &database.QueryResult{}
	for _, tbl := range tables {
		cols.Rows = append(cols.Rows,
			map[string]any{"table_schema": "public", "table_name": tbl, "column_name": "id", "data_type": "integer", "is_nullable": false},
			map[string]any{"table_schema": "public", "table_name": tbl, "column_name": "name", "data_type": "text", "is_nullable": true},
		)
	}
	pks := &database.QueryResult{Rows: []map[string]any{
		{"table_schema": "public", "table_name": tables[0], "column_name": "id"},
	}}
	return map[string]*database.QueryResult{
		"information_schema.columns c": cols,
		"'PRIMARY KEY'":                pks,
	}
}

func TestLoad_FromInformationSchema(t *testing.T) {
	q := &fakeQuerier{results: introspectionResults("zone_master", "district_master")}

	c, err := catalog.Load(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, q.calls)

	tbl, ok := c.Table("zone_master")
	require.True(t, ok)
	require.Len(t, tbl.Columns, 2)
	assert.True(t, tbl.Columns[0].PrimaryKey)
	assert.False(t, tbl.Columns[0].Nullable)
	assert.Equal(t, catalog.TypeText, tbl.Columns[1].Type)
}

func TestLoad_FailureIsSchemaUnavailable(t *testing.T) {
	_, err := catalog.Load(context.Background(), &fakeQuerier{err: errors.New("connection refused")}, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSchemaUnavailable, apperrors.KindOf(err))

	_, err = catalog.Load(context.Background(), &fakeQuerier{}, []string{"fleet"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSchemaUnavailable, apperrors.KindOf(err))
}

func TestRefresh_SwapsSnapshot(t *testing.T) {
	q := &fakeQuerier{results: introspectionResults("zone_master")}
	c, err := catalog.Load(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Len(t, c.Tables(), 1)

	q.results = introspectionResults("zone_master", "hosp_master")
	require.NoError(t, c.Refresh(context.Background()))
	assert.Len(t, c.Tables(), 2)

	q.err = errors.New("boom")
	require.Error(t, c.Refresh(context.Background()))
	assert.Len(t, c.Tables(), 2, "failed refresh keeps the previous snapshot")
}

func TestRefresh_StaticCatalog(t *testing.T) {
	err := catalogtest.Fleet().Refresh(context.Background())
	assert.Equal(t, apperrors.KindSchemaUnavailable, apperrors.KindOf(err))
}
