package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog/catalogtest"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

func newSchemaServer(t *testing.T) *server.MCPServer {
	t.Helper()
	tables := append(catalogtest.FleetTables(), catalog.Table{
		Schema: "public", Name: "stoppage_report",
		Columns: []catalog.Column{{Name: "id", PGType: "integer", Type: catalog.ClassifyType("integer")}},
	})
	s := newToolServer()
	RegisterSchemaTools(s, &SchemaToolDeps{
		Catalog: catalog.New(tables),
		Rules:   rules.MustDefault(),
		Logger:  zaptest.NewLogger(t),
	})
	return s
}

type notFound struct {
	Code    string `json:"code"`
	Details struct {
		Suggestions []string `json:"suggestions"`
	} `json:"details"`
}

func TestDescribeSchema_ListsVisibleTables(t *testing.T) {
	s := newSchemaServer(t)

	var res schemaResult
	require.NoError(t, json.Unmarshal([]byte(callTool(t, s, "describe_schema", nil).text(t)), &res))

	names := make([]string, 0, len(res.Tables))
	for _, tbl := range res.Tables {
		names = append(names, tbl.Name)
		assert.NotEmpty(t, tbl.Description)
	}
	assert.Contains(t, names, "public.vehicle_master")
	assert.NotContains(t, names, "public.stoppage_report")
	assert.Len(t, names, len(catalogtest.FleetTables()))
}

func TestDescribeSchema_OneTable(t *testing.T) {
	s := newSchemaServer(t)

	var res tableResult
	require.NoError(t, json.Unmarshal([]byte(callTool(t, s, "describe_schema", map[string]any{"table": "vehicle_master"}).text(t)), &res))

	assert.Equal(t, "public.vehicle_master", res.Name)
	require.NotEmpty(t, res.Columns)
	assert.Equal(t, "id", res.Columns[0].Name)
	require.Len(t, res.ForeignKeys, 1)
	assert.Equal(t, "plant_id", res.ForeignKeys[0].Column)
}

func TestDescribeSchema_UnknownOrBanned(t *testing.T) {
	s := newSchemaServer(t)

	resp := callTool(t, s, "describe_schema", map[string]any{"table": "vehicle_mstr"})
	assert.True(t, resp.Result.IsError)

	var nf notFound
	require.NoError(t, json.Unmarshal([]byte(resp.text(t)), &nf))
	assert.Equal(t, "table_not_found", nf.Code)
	assert.Contains(t, nf.Details.Suggestions, "vehicle_master")

	resp = callTool(t, s, "describe_schema", map[string]any{"table": "stoppage_report"})
	assert.True(t, resp.Result.IsError)
	require.NoError(t, json.Unmarshal([]byte(resp.text(t)), &nf))
	assert.NotContains(t, nf.Details.Suggestions, "stoppage_report")
}
