package sqlite

import (
	"strings"
	"time"
)

func nowUTC() time.Time { return time.Now().UTC() }

// inClause builds a "?,?,?" placeholder string and the matching
// []interface{} args for a dynamic IN (...) clause.
func inClause(ids []string) (string, []interface{}) {
	ph := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return strings.Join(ph, ","), args
}

// sjsonSetStringArray sets a top-level string-array field in a JSON
// document without a full unmarshal/marshal round trip.
func sjsonSetStringArray(data, path string, values []string) (string, error) {
	return sjsonSet(data, path, values)
}
