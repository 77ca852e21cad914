package resolver

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind is the kind of reference a phrase makes to earlier results.
type Kind string

const (
	KindPossessive    Kind = "possessive"
	KindDemonstrative Kind = "demonstrative"
	KindImplicit      Kind = "implicit"
	KindOrdinal       Kind = "ordinal"
	KindSubPick       Kind = "sub_pick"
)

// Detection is one reference found in a query.
type Detection struct {
	Kind       Kind
	Confidence float64
	// Field is the attribute asked about, e.g. "categories" in
	// "show their categories".
	Field string
	// Ordinal is 1-based; -1 means the last item.
	Ordinal int
	// Phrase is the descriptive text of a sub-pick ("leakage").
	Phrase string
}

var (
	possessivePattern = regexp.MustCompile(`\b(?:their|thier|thire|ther|its|his|her)\b(?:\s+([a-z][a-z_]*))?`)
	partitivePattern  = regexp.MustCompile(`\b(?:of|among|from)\s+(?:these|those|them|the above)\b`)
	pluralDemPattern  = regexp.MustCompile(`\b(?:these|those|them)\b`)
	singleDemPattern  = regexp.MustCompile(`\b(?:this|that)\s+(?:one|complaint|vehicle|truck|customer|plant|record|row)\b`)
	implicitPattern   = regexp.MustCompile(`\b(?:show(?:\s+me)?(?:\s+the)?\s+details?|more\s+(?:info|information|details?)|tell\s+me\s+more|list\s+(?:them\s+)?all|full\s+details?|details?\s+(?:of|about|for)\s+(?:it|them|each))\b`)
	digitOrdinal      = regexp.MustCompile(`\b(` + monthNames + `\s+)?(\d{1,3})(?:st|nd|rd|th)\b(\s+(?:of\s+)?` + monthNames + `\b|\s+(?:week|month|year|day|quarter)s?\b)?`)
	wordOrdinal       = regexp.MustCompile(`\b(?:the\s+)?(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|last)\b(\s+\d+|\s+(?:week|month|year|night|time|day|hour|quarter)s?\b|\s+(?:of\s+)?` + monthNames + `\b)?`)
	numberedPattern   = regexp.MustCompile(`(?:\b(?:item|row|entry|number)\s+|(?:^|\s)#)(\d{1,3})\b`)
	oneSubPick        = regexp.MustCompile(`\bthe\s+([a-z][a-z-]*(?:\s+[a-z][a-z-]*)?)\s+ones?\b`)
	nounSubPick       = regexp.MustCompile(`\bthe\s+([a-z][a-z-]*(?:\s+[a-z][a-z-]*)?)\s+(?:complaint|vehicle|truck|customer|plant)\b`)
)

const monthNames = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"last": -1,
}

// words that cannot start a sub-pick phrase
var subPickStop = map[string]bool{
	"same": true, "other": true, "next": true, "previous": true, "above": true,
	"open": true, "closed": true, "all": true, "each": true, "every": true,
	"selected": true, "new": true, "whole": true, "entire": true,
}

// Detect finds every reference in query, highest confidence first.
func Detect(query string) []Detection {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Detection

	for _, m := range possessivePattern.FindAllStringSubmatch(q, -1) {
		field := m[1]
		if isFiller(field) {
			field = ""
		}
		out = append(out, Detection{Kind: KindPossessive, Confidence: 0.8, Field: field})
	}

	switch {
	case partitivePattern.MatchString(q):
		out = append(out, Detection{Kind: KindDemonstrative, Confidence: 0.9})
	case pluralDemPattern.MatchString(q), singleDemPattern.MatchString(q):
		out = append(out, Detection{Kind: KindDemonstrative, Confidence: 0.75})
	}

	if implicitPattern.MatchString(q) {
		out = append(out, Detection{Kind: KindImplicit, Confidence: 0.6})
	}

	if n, ok := detectOrdinal(q); ok {
		out = append(out, Detection{Kind: KindOrdinal, Confidence: 0.85, Ordinal: n, Field: askedField(q)})
	}

	if d, ok := detectSubPick(q); ok {
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func detectOrdinal(q string) (int, bool) {
	for _, m := range digitOrdinal.FindAllStringSubmatch(q, -1) {
		// "1st march", "march 3rd" and "2nd week" are dates.
		if m[1] != "" || m[3] != "" {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
			return n, true
		}
	}
	if m := numberedPattern.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}
	for _, m := range wordOrdinal.FindAllStringSubmatch(q, -1) {
		// "first 10 vehicles" and "last week" are not picks.
		if m[2] != "" {
			continue
		}
		return ordinalWords[m[1]], true
	}
	return 0, false
}

func detectSubPick(q string) (Detection, bool) {
	try := func(re *regexp.Regexp, conf float64) (Detection, bool) {
		for _, m := range re.FindAllStringSubmatch(q, -1) {
			phrase := m[1]
			first := strings.Fields(phrase)[0]
			if subPickStop[first] || isFiller(first) {
				continue
			}
			if _, ok := detectOrdinal(phrase); ok {
				continue
			}
			return Detection{Kind: KindSubPick, Confidence: conf, Phrase: phrase}, true
		}
		return Detection{}, false
	}
	if d, ok := try(oneSubPick, 0.75); ok {
		return d, true
	}
	return try(nounSubPick, 0.5)
}

var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"what": true, "which": true, "who": true, "whose": true, "where": true, "when": true, "how": true,
	"of": true, "for": true, "in": true, "on": true, "at": true, "to": true, "from": true, "by": true,
	"and": true, "or": true, "me": true, "show": true, "tell": true, "give": true, "get": true,
	"list": true, "about": true, "more": true, "details": true, "detail": true, "info": true,
	"information": true, "please": true, "one": true, "ones": true, "it": true, "its": true,
	"their": true, "thier": true, "thire": true, "ther": true, "his": true, "her": true,
	"this": true, "that": true, "these": true, "those": true, "them": true, "s": true,
	"do": true, "does": true, "did": true, "have": true, "has": true, "with": true, "all": true,
	"number": true, "no": true, "item": true, "row": true, "whats": true, "what's": true,
	"belong": true, "belongs": true, "located": true, "current": true, "exact": true,
}

func isFiller(w string) bool {
	return w == "" || fillerWords[w]
}

var fieldToken = regexp.MustCompile(`[a-z][a-z_]*`)

// askedField picks the attribute word in an ordinal question, e.g. "region"
// in "what is the region of the 7th vehicle". Entity nouns and ordinal words
// are skipped.
func askedField(q string) string {
	for _, tok := range fieldToken.FindAllString(q, -1) {
		if isFiller(tok) || entityNouns[tok] {
			continue
		}
		if _, ok := ordinalWords[tok]; ok {
			continue
		}
		if digitSuffix[tok] {
			continue
		}
		return tok
	}
	return ""
}

var entityNouns = map[string]bool{
	"complaint": true, "complaints": true, "vehicle": true, "vehicles": true,
	"truck": true, "trucks": true, "customer": true, "customers": true,
	"plant": true, "plants": true, "record": true, "records": true, "entry": true,
}

// leftovers of "7th" once the digits are skipped by fieldToken
var digitSuffix = map[string]bool{"st": true, "nd": true, "rd": true, "th": true}

// Confidence combines detections: the strongest one, raised by 0.1 for
// every further distinct kind, capped at 0.95.
func Confidence(ds []Detection) float64 {
	if len(ds) == 0 {
		return 0
	}
	best := 0.0
	kinds := make(map[Kind]bool)
	for _, d := range ds {
		best = max(best, d.Confidence)
		kinds[d.Kind] = true
	}
	return min(best+0.1*float64(len(kinds)-1), 0.95)
}

func find(ds []Detection, k Kind) (Detection, bool) {
	for _, d := range ds {
		if d.Kind == k {
			return d, true
		}
	}
	return Detection{}, false
}
