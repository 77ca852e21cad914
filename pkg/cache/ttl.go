package cache

import (
	"regexp"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// Class is the freshness class a query falls into.
type Class string

const (
	ClassMaster   Class = "master"
	ClassReport   Class = "report"
	ClassRealtime Class = "realtime"
	ClassDefault  Class = "default"
)

// RealtimeTag marks SQL whose results must stay fresh.
const RealtimeTag = "/* realtime */"

// tableRefPattern finds FROM and JOIN targets. The first group catches the
// FROM inside EXTRACT(field FROM col), which names a column.
var tableRefPattern = regexp.MustCompile(`(?i)(\bextract\s*\(\s*[a-z_]+\s+)?\b(?:from|join)\s+([a-z_][a-z0-9_."]*)`)

// TTLPolicy picks a TTL by looking at which tables a statement reads.
type TTLPolicy struct {
	Master   time.Duration
	Report   time.Duration
	Realtime time.Duration
	Default  time.Duration

	rules *rules.RuleSet
}

// NewTTLPolicy builds a policy from configuration and the table classes in rs.
func NewTTLPolicy(cfg config.CacheConfig, rs *rules.RuleSet) *TTLPolicy {
	return &TTLPolicy{
		Master:   cfg.MasterTTL,
		Report:   cfg.ReportTTL,
		Realtime: cfg.RealtimeTTL,
		Default:  cfg.DefaultTTL,
		rules:    rs,
	}
}

// Classify returns the TTL for a statement reading tables. Report tables win
// over master tables because a join is only as fresh as its most volatile
// side. When tables is empty they are scanned from sql.
func (p *TTLPolicy) Classify(sql string, tables []string, realtime bool) (time.Duration, Class) {
	if realtime || strings.Contains(strings.ToLower(sql), RealtimeTag) {
		return p.Realtime, ClassRealtime
	}

	if len(tables) == 0 {
		tables = scanTables(sql)
	}
	if len(tables) == 0 {
		return p.Default, ClassDefault
	}

	allMaster := true
	for _, table := range tables {
		switch p.rules.TableClass(table) {
		case "report":
			return p.Report, ClassReport
		case "master":
		default:
			allMaster = false
		}
	}
	if allMaster {
		return p.Master, ClassMaster
	}
	return p.Default, ClassDefault
}

func scanTables(sql string) []string {
	var tables []string
	for _, m := range tableRefPattern.FindAllStringSubmatch(sql, -1) {
		if m[1] != "" {
			continue
		}
		tables = append(tables, m[2])
	}
	return tables
}
