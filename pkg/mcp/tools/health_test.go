package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog/catalogtest"
)

func TestRegisterHealthTool_Listed(t *testing.T) {
	s := newToolServer()
	RegisterHealthTool(s, "test-version", nil)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))
	require.Len(t, response.Result.Tools, 1)
	assert.Equal(t, "health", response.Result.Tools[0].Name)
	assert.Equal(t, "Returns server health status and version", response.Result.Tools[0].Description)
}

func TestHealthTool_Execute(t *testing.T) {
	s := newToolServer()
	RegisterHealthTool(s, `1.2.3-beta"x`, catalogtest.Fleet())

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(callTool(t, s, "health", nil).text(t)), &health))

	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, `1.2.3-beta"x`, health.Version)
	assert.Equal(t, len(catalogtest.FleetTables()), health.Tables)
}

func TestHealthTool_NoCatalog(t *testing.T) {
	s := newToolServer()
	RegisterHealthTool(s, "1.0.0", nil)

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(callTool(t, s, "health", nil).text(t)), &health))
	assert.Equal(t, "degraded", health.Status)
}
