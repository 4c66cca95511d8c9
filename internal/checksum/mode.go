// Package checksum computes comparable content digests of a table on two
// servers without moving the rows. Two strategies exist: Sample hashes the
// first N rows in a stable order; PkRange aggregates every row, chunk by
// chunk, over an integer key.
package checksum

import "fmt"

// Mode selects the hashing strategy for a run. A nil Mode disables hashing.
type Mode interface {
	Name() string
	validate() error
}

// Sample hashes the first Limit rows of each side in ordering-key order.
type Sample struct {
	Limit int
}

func (Sample) Name() string { return "sample" }

func (m Sample) validate() error {
	if m.Limit <= 0 {
		return fmt.Errorf("sample limit must be positive, got %d", m.Limit)
	}
	return nil
}

// PkRange hashes the whole table in ChunkSize-wide ranges of an integer key.
// An empty Column means the table's single-column primary key.
type PkRange struct {
	Column    string
	ChunkSize int64
}

func (PkRange) Name() string { return "pk-range" }

func (m PkRange) validate() error {
	if m.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", m.ChunkSize)
	}
	return nil
}
