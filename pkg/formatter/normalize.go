package formatter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/geocode"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// CoordinatesSuffix names the companion column that keeps the raw
// coordinates of a geocoded location column.
const CoordinatesSuffix = " Coordinates"

// maxGeocodes bounds the distinct coordinates resolved per result; the rest
// get the fallback name.
const maxGeocodes = 10

// Table is a result with display column names and display values.
type Table struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	// companions are the coordinate columns kept out of the answer text.
	companions map[string]bool
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

type columnPlan struct {
	source   string
	display  string
	kind     string // "", "distance", "rotation", "location"
	convert  bool   // distance column holding meters
	coordCol string
}

// Normalize maps a result onto display names and display values.
func (f *Formatter) Normalize(ctx context.Context, res *database.QueryResult) *Table {
	t := &Table{companions: make(map[string]bool)}
	if res == nil {
		return t
	}

	plans := make([]columnPlan, 0, len(res.Columns))
	for _, c := range res.Columns {
		p := columnPlan{source: c.Name, display: f.DisplayName(c.Name)}
		switch {
		case f.rules.IsLocationColumn(c.Name):
			p.kind = "location"
			p.coordCol = p.display + CoordinatesSuffix
			t.companions[p.coordCol] = true
		default:
			if conv, ok := f.conversionFor(c.Name); ok {
				p.kind = conv.Kind
				if conv.Kind == "distance" {
					p.convert = anyOver(res.Rows, c.Name, 1000)
				}
				if p.convert || conv.Kind == "rotation" {
					p.display = f.DisplayName(conv.Alias)
				}
			}
		}
		t.Columns = append(t.Columns, p.display)
		if p.coordCol != "" {
			t.Columns = append(t.Columns, p.coordCol)
		}
		plans = append(plans, p)
	}

	places := newPlaceResolver(f.geocoder, f.logger)
	t.Rows = make([]map[string]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		out := make(map[string]any, len(t.Columns))
		for _, p := range plans {
			v := row[p.source]
			switch p.kind {
			case "location":
				name, coords := places.resolve(ctx, v)
				out[p.display] = name
				out[p.coordCol] = coords
			case "distance":
				if p.convert {
					out[p.display] = metersToKm(v)
				} else {
					out[p.display] = Value(v)
				}
			case "rotation":
				out[p.display] = rotationClock(v)
			default:
				out[p.display] = Value(v)
			}
		}
		t.Rows = append(t.Rows, out)
	}
	return t
}

// DisplayName returns the configured label for column, or the column name
// title-cased with underscores as spaces.
func (f *Formatter) DisplayName(column string) string {
	if label, ok := f.rules.Label(column); ok {
		return label
	}
	return cases.Title(language.English).String(strings.ReplaceAll(column, "_", " "))
}

func (f *Formatter) conversionFor(column string) (rules.Conversion, bool) {
	for _, c := range f.rules.Conversions {
		if strings.EqualFold(c.Column, column) {
			return c, true
		}
	}
	return rules.Conversion{}, false
}

// Value converts one database value for display: decimals and floats to
// two places, intervals to words, times of day to "Hh Mm Ss", timestamps
// to ISO form.
func Value(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case decimal.Decimal:
		return json.Number(x.StringFixed(2))
	case float64:
		return json.Number(decimal.NewFromFloat(x).StringFixed(2))
	case database.Interval:
		return FormatDuration(x.Duration())
	case database.TimeOfDay:
		h, m, s := x.Clock()
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format("2006-01-02T15:04:05")
	default:
		return x
	}
}

// FormatDuration renders "X days, Y hours, Z minutes", leaving out leading
// zero parts.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if days > 0 || hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	parts = append(parts, plural(minutes, "minute"))
	return strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case float64:
		return decimal.NewFromFloat(x), true
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	}
	return decimal.Zero, false
}

func anyOver(rows []map[string]any, column string, limit int64) bool {
	bound := decimal.NewFromInt(limit)
	for _, r := range rows {
		if d, ok := toDecimal(r[column]); ok && d.GreaterThan(bound) {
			return true
		}
	}
	return false
}

func metersToKm(v any) any {
	d, ok := toDecimal(v)
	if !ok {
		return Value(v)
	}
	return json.Number(d.Div(decimal.NewFromInt(1000)).StringFixed(2))
}

// rotationClock renders a raw drum rotation counter as HH:MM; half the
// counter is minutes.
func rotationClock(v any) any {
	d, ok := toDecimal(v)
	if !ok {
		return Value(v)
	}
	minutes := d.IntPart() / 2
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

type placeResolver struct {
	geocoder geocode.Geocoder
	logger   *zap.Logger
	names    map[string]string
	lookups  int
}

func newPlaceResolver(g geocode.Geocoder, logger *zap.Logger) *placeResolver {
	return &placeResolver{geocoder: g, logger: logger, names: make(map[string]string)}
}

// resolve returns the place name for a "lat,lng" value and the original
// text. Values that are not coordinates pass through unchanged.
func (p *placeResolver) resolve(ctx context.Context, v any) (any, any) {
	s, ok := v.(string)
	if !ok {
		return Value(v), nil
	}
	lat, lng, ok := geocode.ParseCoordinates(s)
	if !ok {
		return s, nil
	}
	key := fmt.Sprintf("%.4f,%.4f", lat, lng)
	if name, ok := p.names[key]; ok {
		return name, s
	}

	name := geocode.Fallback(lat, lng)
	if p.geocoder != nil && p.lookups < maxGeocodes && ctx.Err() == nil {
		p.lookups++
		resolved, err := p.geocoder.Reverse(ctx, lat, lng)
		if err != nil {
			p.logger.Warn("Reverse geocoding failed",
				zap.String("error", logging.SanitizeError(err)))
		} else {
			name = resolved
		}
	}
	p.names[key] = name
	return name, s
}
