package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in       string
		lat, lng float64
		ok       bool
	}{
		{"21.1458,79.0882", 21.1458, 79.0882, true},
		{" 21.1458, 79.0882 ", 21.1458, 79.0882, true},
		{"21.1458/79.0882", 21.1458, 79.0882, true},
		{"(-33.86, 151.2)", -33.86, 151.2, true},
		{"95.0,10.0", 0, 0, false},
		{"Nagpur", 0, 0, false},
		{"21.1458", 0, 0, false},
	}
	for _, tt := range tests {
		lat, lng, ok := ParseCoordinates(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.lat, lat, 1e-9, tt.in)
			assert.InDelta(t, tt.lng, lng, 1e-9, tt.in)
		}
	}
}

func TestFallback(t *testing.T) {
	assert.Equal(t, "Location near 21.1458,79.0882", Fallback(21.14581, 79.08821))
}

func newTestGeocoder(t *testing.T, handler http.HandlerFunc) *Nominatim {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewNominatim(config.GeocoderConfig{
		BaseURL:     srv.URL,
		UserAgent:   "fleetql-test",
		MinInterval: time.Millisecond,
		Timeout:     time.Second,
	}, zaptest.NewLogger(t))
}

func TestNominatim_Reverse(t *testing.T) {
	var hits atomic.Int32
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "fleetql-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "21.145800", r.URL.Query().Get("lat"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name":"Hingna, Nagpur, Maharashtra, India","address":{"suburb":"Hingna","city":"Nagpur","state":"Maharashtra"}}`))
	})

	name, err := g.Reverse(context.Background(), 21.1458, 79.0882)
	require.NoError(t, err)
	assert.Equal(t, "Hingna, Nagpur", name)

	// Same point after rounding comes from the memo.
	name, err = g.Reverse(context.Background(), 21.14581, 79.08819)
	require.NoError(t, err)
	assert.Equal(t, "Hingna, Nagpur", name)
	assert.EqualValues(t, 1, hits.Load())
}

func TestNominatim_Errors(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "1.000000" {
			_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := g.Reverse(context.Background(), 1, 1)
	assert.ErrorContains(t, err, "Unable to geocode")

	_, err = g.Reverse(context.Background(), 2, 2)
	assert.ErrorContains(t, err, "status 429")
}

func TestNominatim_RespectsCancellation(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name":"Somewhere"}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Reverse(ctx, 3, 3)
	assert.Error(t, err)
}

func TestShortName_FallsBackToDisplayName(t *testing.T) {
	assert.Equal(t, "Plot 4, MIDC, Hingna", shortName(reverseResponse{DisplayName: "Plot 4, MIDC, Hingna, Nagpur, India"}))
	assert.Equal(t, "Wardha", shortName(reverseResponse{Address: map[string]string{"town": "Wardha", "county": "Wardha"}}))
}
