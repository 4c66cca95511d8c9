// Package report folds per-table comparison results into the run report
// and renders it.
package report

import (
	"errors"
	"sort"
	"time"

	"github.com/KimHG1995/db-migration-checker/internal/checksum"
	"github.com/KimHG1995/db-migration-checker/internal/dbconfig"
	"github.com/KimHG1995/db-migration-checker/internal/driver"
	"github.com/KimHG1995/db-migration-checker/internal/schema"
)

// Status is the verdict for a table or a run.
type Status string

const (
	StatusOK       Status = "OK"
	StatusMismatch Status = "MISMATCH"
	StatusError    Status = "ERROR"
)

// Components that can fail for a table.
const (
	ComponentCatalog = "catalog"
	ComponentCount   = "count"
	ComponentHash    = "hash"
	ComponentTable   = "table"
)

// CountResult compares exact row counts.
type CountResult struct {
	Source      int64 `json:"source"`
	Destination int64 `json:"destination"`
	Delta       int64 `json:"delta"` // source - destination
}

// NewCountResult builds a CountResult with Delta filled in.
func NewCountResult(src, dst int64) *CountResult {
	return &CountResult{Source: src, Destination: dst, Delta: src - dst}
}

// ComponentError records a failure of one check of one table.
type ComponentError struct {
	Component string      `json:"component"`
	Side      driver.Side `json:"side,omitempty"`
	Kind      string      `json:"kind"`
	Message   string      `json:"message"`
}

// NewComponentError classifies err for component.
func NewComponentError(component string, err error) ComponentError {
	ce := ComponentError{Component: component, Kind: driver.ErrorKind(err), Message: err.Error()}
	var (
		metaErr *driver.MetadataError
		qErr    *driver.QueryError
	)
	switch {
	case errors.As(err, &metaErr):
		ce.Side = metaErr.Side
	case errors.As(err, &qErr):
		ce.Side = qErr.Side
	}
	return ce
}

// TableReport is the outcome for one table.
type TableReport struct {
	Table      string           `json:"table"`
	Status     Status           `json:"status"`
	Schema     *schema.Diff     `json:"schema,omitempty"`
	Count      *CountResult     `json:"count,omitempty"`
	Hash       *checksum.Result `json:"hash,omitempty"`
	Errors     []ComponentError `json:"errors,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// MissingInDestination reports whether the table failed because it does
// not exist on the destination.
func (t *TableReport) MissingInDestination() bool {
	for _, e := range t.Errors {
		if e.Kind == "metadata" && e.Side == driver.SideDestination {
			return true
		}
	}
	return false
}

// DeriveStatus computes a table verdict. Any component error makes it
// ERROR; otherwise any schema, count or hash difference makes it MISMATCH.
// Hashing that was requested but skipped never counts as a pass.
func DeriveStatus(t *TableReport) Status {
	if len(t.Errors) > 0 {
		return StatusError
	}
	if !t.Schema.Empty() {
		return StatusMismatch
	}
	if t.Count != nil && t.Count.Delta != 0 {
		return StatusMismatch
	}
	if t.Hash != nil {
		switch t.Hash.Status {
		case checksum.StatusMismatch:
			return StatusMismatch
		case checksum.StatusSkipped:
			return StatusError
		}
	}
	return StatusOK
}

// HashSettings records the hashing configuration of the run.
type HashSettings struct {
	Mode        string `json:"mode"` // off, sample, pk-range
	SampleLimit int    `json:"sample_limit,omitempty"`
	KeyColumn   string `json:"key_column,omitempty"`
	ChunkSize   int64  `json:"chunk_size,omitempty"`
}

// NewHashSettings describes mode; nil means hashing off.
func NewHashSettings(mode checksum.Mode) HashSettings {
	switch m := mode.(type) {
	case checksum.Sample:
		return HashSettings{Mode: m.Name(), SampleLimit: m.Limit}
	case checksum.PkRange:
		return HashSettings{Mode: m.Name(), KeyColumn: m.Column, ChunkSize: m.ChunkSize}
	default:
		return HashSettings{Mode: "off"}
	}
}

// Summary aggregates table outcomes.
type Summary struct {
	TablesChecked        int      `json:"tables_checked"`
	OK                   int      `json:"ok"`
	Mismatched           int      `json:"mismatched"`
	Errored              int      `json:"errored"`
	SchemaMismatches     int      `json:"schema_mismatches"`
	CountMismatches      int      `json:"count_mismatches"`
	HashMismatches       int      `json:"hash_mismatches"`
	MissingInDestination []string `json:"missing_in_destination,omitempty"`
	ExtraInDestination   []string `json:"extra_in_destination,omitempty"`
}

// MigrationReport is the immutable result of one run.
type MigrationReport struct {
	RunID       string            `json:"run_id"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Source      dbconfig.Endpoint `json:"source"`
	Destination dbconfig.Endpoint `json:"destination"`
	Hash        HashSettings      `json:"hash"`
	Tables      []TableReport     `json:"tables"`
	Summary     Summary           `json:"summary"`
	Status      Status            `json:"status"`
	Cancelled   bool              `json:"cancelled,omitempty"`
}

// AllOK reports whether every table passed.
func (r *MigrationReport) AllOK() bool {
	return r.Status == StatusOK
}

// ExitCode maps the run verdict to the process exit code: 0 when every
// table is OK, 1 otherwise.
func (r *MigrationReport) ExitCode() int {
	if r.AllOK() {
		return 0
	}
	return 1
}

// Duration is the wall time of the run.
func (r *MigrationReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Input is everything Build needs.
type Input struct {
	RunID              string
	StartedAt          time.Time
	CompletedAt        time.Time
	Source             dbconfig.Endpoint
	Destination        dbconfig.Endpoint
	Hash               HashSettings
	Tables             []TableReport
	ExtraInDestination []string
	Cancelled          bool
}

// Build derives every table status and the run summary. It does not
// modify in, so building twice from the same input gives equal reports.
func Build(in Input) *MigrationReport {
	tables := make([]TableReport, len(in.Tables))
	copy(tables, in.Tables)
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].Table < tables[j].Table })

	r := &MigrationReport{
		RunID:       in.RunID,
		StartedAt:   in.StartedAt,
		CompletedAt: in.CompletedAt,
		Source:      in.Source,
		Destination: in.Destination,
		Hash:        in.Hash,
		Tables:      tables,
		Cancelled:   in.Cancelled,
		Status:      StatusOK,
	}
	if len(in.ExtraInDestination) > 0 {
		r.Summary.ExtraInDestination = append([]string(nil), in.ExtraInDestination...)
		sort.Strings(r.Summary.ExtraInDestination)
	}

	for i := range tables {
		t := &tables[i]
		t.Status = DeriveStatus(t)
		r.Summary.TablesChecked++

		switch t.Status {
		case StatusOK:
			r.Summary.OK++
		case StatusMismatch:
			r.Summary.Mismatched++
		case StatusError:
			r.Summary.Errored++
		}
		if !t.Schema.Empty() {
			r.Summary.SchemaMismatches++
		}
		if t.Count != nil && t.Count.Delta != 0 {
			r.Summary.CountMismatches++
		}
		if t.Hash != nil && t.Hash.Status == checksum.StatusMismatch {
			r.Summary.HashMismatches++
		}
		if t.MissingInDestination() {
			r.Summary.MissingInDestination = append(r.Summary.MissingInDestination, t.Table)
		}
		if t.Status != StatusOK {
			r.Status = StatusMismatch
		}
	}
	if r.Summary.Errored > 0 || in.Cancelled {
		r.Status = StatusError
	}
	return r
}

// FailedTables returns the names of tables that are not OK.
func (r *MigrationReport) FailedTables() []string {
	var names []string
	for _, t := range r.Tables {
		if t.Status != StatusOK {
			names = append(names, t.Table)
		}
	}
	return names
}
