package engine

import "fmt"

// Query represents a SQL query with dialect-specific variants
type Query struct {
	Sqlite   string
	Postgres string
}

// SameQuery makes a Query with the same text for all dialects
func SameQuery(q string) Query {
	return Query{Sqlite: q, Postgres: q}
}

// Pick returns the query text for the given db type
func (q Query) Pick(dbType Type) (string, error) {
	switch dbType {
	case Sqlite:
		return q.Sqlite, nil
	case Postgres:
		return q.Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}
