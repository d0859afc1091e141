// Package storage provides database-backed stores for blacklists,
// banned IPs and comment decisions. All stores work with both sqlite
// and postgres through the engine package, use RW locks for sqlite
// single-writer access and dialect-specific queries where needed.
package storage

import (
	"fmt"
	"strings"
)

// inClause builds a "(?, ?, ...)" placeholder group and its args for an id list.
func inClause(ids []int64) (string, []any) {
	if len(ids) == 0 {
		return "(NULL)", nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf("(%s)", strings.Join(placeholders, ", ")), args
}
