package heartbeat

import (
	"strings"
	"time"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/heartbeat/types"
)

// RecordQuery adds one completed statement to the pending buffer. The query
// text must already be obfuscated by the caller; raw SQL never enters the
// buffer.
func RecordQuery(query string, startedAt time.Time, rowCount int64, isPreparedStatement bool) {
	if isFilteredQuery(query) {
		return
	}

	pendingQueries.Add(types.Query{
		Query:               query,
		ExecutedAt:          startedAt.UnixNano(),
		Duration:            time.Since(startedAt).Nanoseconds(),
		RowCount:            rowCount,
		IsPreparedStatement: isPreparedStatement,
	})
}

// isFilteredQuery reports statements too trivial to be worth reporting.
func isFilteredQuery(query string) bool {
	switch strings.ToLower(strings.TrimRight(strings.TrimSpace(query), ";")) {
	case "":
		return true
	case "select ?", "select 1":
		return true
	case "begin", "start transaction", "commit", "rollback":
		return true
	}

	return false
}
