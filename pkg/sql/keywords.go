package sql

// keywords are words that never name a column. Common column names that
// Postgres treats as non-reserved (name, type, status, value) stay out.
var keywords = toSet(
	"select", "from", "where", "group", "by", "having", "order", "limit", "offset", "fetch",
	"first", "next", "rows", "row", "only", "ties", "union", "intersect", "except", "all",
	"distinct", "on", "as", "join", "inner", "left", "right", "full", "outer", "cross",
	"natural", "using", "lateral", "with", "recursive", "materialized", "not", "and", "or",
	"in", "is", "null", "true", "false", "unknown", "like", "ilike", "similar", "escape",
	"between", "symmetric", "exists", "any", "some", "case", "when", "then", "else", "end",
	"asc", "desc", "nulls", "last", "cast", "interval", "date", "time", "timestamp",
	"timestamptz", "zone", "at", "without", "current_date", "current_time",
	"current_timestamp", "localtime", "localtimestamp", "current_user", "session_user",
	"filter", "over", "partition", "range", "groups", "preceding", "following", "unbounded",
	"current", "window", "year", "month", "week", "day", "hour", "minute", "second",
	"epoch", "dow", "doy", "isodow", "isoyear", "quarter", "decade", "century", "millennium",
	"milliseconds", "microseconds", "text", "numeric", "decimal", "integer", "int", "int2",
	"int4", "int8", "bigint", "smallint", "real", "double", "precision", "float", "float4",
	"float8", "varchar", "char", "character", "varying", "boolean", "bool", "uuid", "json",
	"jsonb", "bytea", "array", "both", "leading", "trailing", "collate", "isnull", "notnull",
	"for", "into", "values", "default", "to", "within", "ordinality", "tablesample",
	"insert", "update", "delete", "merge", "truncate", "drop", "alter", "create", "grant",
	"revoke", "copy", "set", "returning",
)

// reservedAfterTable are words that may follow a table reference and so
// cannot be an alias.
var reservedAfterTable = toSet(
	"where", "join", "inner", "left", "right", "full", "outer", "cross", "natural", "on",
	"using", "group", "order", "having", "limit", "offset", "fetch", "union", "intersect",
	"except", "window", "for", "as", "lateral", "tablesample", "with",
)

// clauseEnd are the words that end a select list or a FROM clause.
var clauseEnd = toSet(
	"from", "where", "group", "having", "order", "limit", "offset", "fetch", "window",
	"union", "intersect", "except", "for", "into", "returning",
)

// writeKeywords start or imply a data- or schema-modifying statement.
var writeKeywords = toSet(
	"insert", "update", "delete", "merge", "truncate", "drop", "alter", "create", "grant",
	"revoke", "copy", "vacuum", "reindex", "cluster", "refresh", "lock", "call", "do",
	"execute", "prepare", "deallocate", "listen", "notify", "comment", "security", "import",
	"returning",
)

// dmlKeywords start a data-modifying statement nested in parentheses, as in
// a modifying CTE.
var dmlKeywords = toSet("insert", "update", "delete", "merge")

// deniedFunctions have side effects or read outside the database.
var deniedFunctions = toSet(
	"pg_sleep", "pg_sleep_for", "pg_sleep_until", "pg_terminate_backend", "pg_cancel_backend",
	"pg_read_file", "pg_read_binary_file", "pg_ls_dir", "pg_stat_file", "lo_import",
	"lo_export", "dblink", "dblink_exec", "set_config", "pg_reload_conf", "pg_rotate_logfile",
	"nextval", "setval",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
