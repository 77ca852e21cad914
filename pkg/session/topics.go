package session

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

var (
	numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	datePattern   = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|today|yesterday|tomorrow|last (?:week|month|year)|this (?:week|month|year)|(?:january|february|march|april|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec)(?: \d{4})?)\b`)
)

// ExtractTopics returns the dictionary topics a query mentions followed by
// the dates and numbers in it, without duplicates.
func ExtractTopics(query string, dictionary []rules.Topic) []string {
	lower := " " + strings.ToLower(query) + " "
	seen := make(map[string]bool)
	var topics []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			topics = append(topics, t)
		}
	}

	for _, topic := range dictionary {
		for _, kw := range topic.Keywords {
			if mentions(lower, kw) {
				add(topic.Name)
				break
			}
		}
	}

	dates := datePattern.FindAllString(lower, -1)
	for _, d := range dates {
		add(strings.TrimSpace(d))
	}
	for _, n := range numberPattern.FindAllString(datePattern.ReplaceAllString(lower, " "), -1) {
		add(n)
	}
	return topics
}

// mentions matches kw at a word start, allowing plural and other suffixes.
func mentions(lower, kw string) bool {
	kw = strings.ToLower(kw)
	for i := 0; ; {
		j := strings.Index(lower[i:], kw)
		if j < 0 {
			return false
		}
		at := i + j
		if at == 0 || !isWordByte(lower[at-1]) {
			return true
		}
		i = at + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
