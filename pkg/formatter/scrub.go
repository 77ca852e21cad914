package formatter

import (
	"regexp"
	"strconv"
	"strings"
)

// ScrubbedLocation replaces coordinates found in answer text.
const ScrubbedLocation = "an unmapped location"

var (
	// Any "lat, lng" pair with at least three decimals on each side, with
	// the fallback name's prefix.
	embeddedCoordinates = regexp.MustCompile(`(?:(?i:location near)\s+)?\(?(-?\d{1,3}\.\d{3,})\s*[/,]\s*(-?\d{1,3}\.\d{3,})\)?`)
	// A reply that is nothing but a decimal pair.
	bareCoordinates = regexp.MustCompile(`^-?\d+\.\d+[/,]\s*-?\d+\.\d+$`)
)

// Scrub removes latitude/longitude strings from text.
func Scrub(text string) string {
	if bareCoordinates.MatchString(strings.TrimSpace(text)) {
		return ScrubbedLocation
	}
	return embeddedCoordinates.ReplaceAllStringFunc(text, func(m string) string {
		sub := embeddedCoordinates.FindStringSubmatch(m)
		lat, err1 := strconv.ParseFloat(sub[1], 64)
		lng, err2 := strconv.ParseFloat(sub[2], 64)
		if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return m
		}
		return ScrubbedLocation
	})
}
