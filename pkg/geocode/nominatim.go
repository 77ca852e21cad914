// Package geocode turns "lat,lng" strings into place names.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
)

const (
	DefaultBaseURL     = "https://nominatim.openstreetmap.org"
	DefaultTimeout     = 5 * time.Second
	DefaultMinInterval = time.Second
	memoTTL            = 24 * time.Hour
)

// Geocoder resolves coordinates to a short place name.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

var coordinatePattern = regexp.MustCompile(`^\s*\(?\s*(-?\d{1,3}(?:\.\d+)?)\s*[,/ ]\s*(-?\d{1,3}(?:\.\d+)?)\s*\)?\s*$`)

// ParseCoordinates reads "21.1458,79.0882" (also "/" or space separated).
func ParseCoordinates(s string) (lat, lng float64, ok bool) {
	m := coordinatePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

// Fallback is the name used when a location cannot be resolved.
func Fallback(lat, lng float64) string {
	return fmt.Sprintf("Location near %.4f,%.4f", lat, lng)
}

// Nominatim is a reverse geocoder over the Nominatim HTTP API. Calls are
// spaced by the configured minimum interval and answers are memoized by
// coordinates rounded to four decimals (about 11 m).
type Nominatim struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
	limiter    *rate.Limiter
	memo       *gocache.Cache
	group      singleflight.Group
	logger     *zap.Logger
}

// NewNominatim creates a reverse geocoder.
func NewNominatim(cfg config.GeocoderConfig, logger *zap.Logger) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fleetql"
	}
	return &Nominatim{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		memo:       gocache.New(memoTTL, time.Hour),
		logger:     logger.Named("geocode"),
	}
}

func memoKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lng)
}

// Reverse returns a short place name such as "Hingna, Nagpur".
func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	key := memoKey(lat, lng)
	if name, ok := n.memo.Get(key); ok {
		return name.(string), nil
	}

	v, err, _ := n.group.Do(key, func() (any, error) {
		if err := n.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		name, err := n.lookup(ctx, lat, lng)
		if err != nil {
			return nil, err
		}
		n.memo.SetDefault(key, name)
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type reverseResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

func (n *Nominatim) lookup(ctx context.Context, lat, lng float64) (string, error) {
	endpoint, err := buildURL(n.baseURL, "reverse")
	if err != nil {
		return "", fmt.Errorf("failed to build URL: %w", err)
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("zoom", "14")
	if n.apiKey != "" {
		q.Set("key", n.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call geocoder: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var r reverseResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if r.Error != "" {
		return "", fmt.Errorf("geocoder: %s", r.Error)
	}

	name := shortName(r)
	if name == "" {
		return "", fmt.Errorf("geocoder returned no name")
	}
	n.logger.Debug("Resolved location", zap.String("name", name))
	return name, nil
}

// shortName keeps the locality and city parts of an address.
func shortName(r reverseResponse) string {
	var parts []string
	seen := make(map[string]bool)
	for _, k := range []string{"suburb", "village", "town", "neighbourhood", "city", "county", "state_district", "state"} {
		v := strings.TrimSpace(r.Address[k])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		parts = append(parts, v)
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}

	// display_name is a long comma list; the first three parts are enough.
	dn := strings.Split(r.DisplayName, ",")
	for i := range dn {
		dn[i] = strings.TrimSpace(dn[i])
	}
	return strings.Join(dn[:min(3, len(dn))], ", ")
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)
	return u.String(), nil
}
