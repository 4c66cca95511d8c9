// Package driver defines the database-neutral model shared by the verifier:
// table metadata, the error taxonomy and the query surface each side exposes.
// The MySQL implementation lives in internal/driver/mysql.
package driver

import "context"

// Database is the query surface of one side of a comparison.
//
// Implementations must be safe for concurrent use; each call checks a
// connection out of the pool and returns it before returning.
type Database interface {
	// Side reports which side this handle is connected to.
	Side() Side

	// ListTables returns the base tables of the database, ordered by name.
	ListTables(ctx context.Context) ([]string, error)

	// TableSpec returns the structural metadata of a table.
	// Returns *MetadataError if the table does not exist.
	TableSpec(ctx context.Context, table string) (*TableSpec, error)

	// RowCount returns the exact row count of a table.
	RowCount(ctx context.Context, table string) (int64, error)

	// KeyBounds returns MIN and MAX of an integer key column.
	KeyBounds(ctx context.Context, table, column string) (KeyBounds, error)

	// ChunkDigest aggregates all rows whose key lies in [lo, hi].
	ChunkDigest(ctx context.Context, table string, columns []ColumnSpec, key string, lo, hi int64) (ChunkDigest, error)

	// SampleRowDigests streams the digest of each of the first limit rows in
	// orderBy order to fn, preserving that order.
	SampleRowDigests(ctx context.Context, table string, columns []ColumnSpec, orderBy []string, limit int, fn func(digest []byte) error) error
}
