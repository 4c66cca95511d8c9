package report

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/KimHG1995/db-migration-checker/internal/checksum"
	"github.com/KimHG1995/db-migration-checker/internal/driver"
	"github.com/KimHG1995/db-migration-checker/internal/schema"
)

func TestDeriveStatus(t *testing.T) {
	schemaDiff := &schema.Diff{Table: "t", Columns: []schema.ColumnDiff{{Column: "a", Kind: schema.ColumnRemoved}}}

	tests := []struct {
		name     string
		table    TableReport
		expected Status
	}{
		{"all equal", TableReport{Schema: &schema.Diff{}, Count: NewCountResult(5, 5)}, StatusOK},
		{"schema differs", TableReport{Schema: schemaDiff, Count: NewCountResult(5, 5)}, StatusMismatch},
		{"count differs", TableReport{Schema: &schema.Diff{}, Count: NewCountResult(5, 4)}, StatusMismatch},
		{"hash differs", TableReport{Count: NewCountResult(5, 5), Hash: &checksum.Result{Status: checksum.StatusMismatch}}, StatusMismatch},
		{"hash matches", TableReport{Count: NewCountResult(5, 5), Hash: &checksum.Result{Status: checksum.StatusMatch, Match: true}}, StatusOK},
		{"hash skipped alone is not a pass", TableReport{Count: NewCountResult(5, 5), Hash: checksum.Skipped(checksum.Sample{Limit: 1}, "x")}, StatusError},
		{"hash skipped after count mismatch", TableReport{Count: NewCountResult(5, 4), Hash: checksum.Skipped(checksum.Sample{Limit: 1}, "x")}, StatusMismatch},
		{"error wins over mismatch", TableReport{Count: NewCountResult(5, 4), Errors: []ComponentError{{Component: ComponentHash}}}, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(&tt.table); got != tt.expected {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestNewComponentError(t *testing.T) {
	err := &driver.MetadataError{Side: driver.SideDestination, Table: "orders"}
	ce := NewComponentError(ComponentCatalog, err)
	if ce.Kind != "metadata" || ce.Side != driver.SideDestination || ce.Component != ComponentCatalog {
		t.Errorf("NewComponentError() = %+v", ce)
	}

	plain := NewComponentError(ComponentTable, errors.New("boom"))
	if plain.Kind != "internal" || plain.Side != "" {
		t.Errorf("NewComponentError(plain) = %+v", plain)
	}
}

func sampleInput() Input {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Input{
		RunID:       "run-1",
		StartedAt:   start,
		CompletedAt: start.Add(3 * time.Second),
		Hash:        NewHashSettings(checksum.PkRange{Column: "id", ChunkSize: 1000}),
		Tables: []TableReport{
			{Table: "users", Schema: &schema.Diff{}, Count: NewCountResult(10, 10)},
			{Table: "orders", Errors: []ComponentError{
				NewComponentError(ComponentCatalog, &driver.MetadataError{Side: driver.SideDestination, Table: "orders"}),
			}},
			{Table: "items", Schema: &schema.Diff{}, Count: NewCountResult(7, 6)},
		},
		ExtraInDestination: []string{"zz_tmp", "audit_log"},
	}
}

func TestBuild(t *testing.T) {
	r := Build(sampleInput())

	if r.Status != StatusError || r.AllOK() || r.ExitCode() != 1 {
		t.Errorf("Status = %s, AllOK = %v, ExitCode = %d", r.Status, r.AllOK(), r.ExitCode())
	}
	names := []string{r.Tables[0].Table, r.Tables[1].Table, r.Tables[2].Table}
	if !reflect.DeepEqual(names, []string{"items", "orders", "users"}) {
		t.Errorf("tables not sorted: %v", names)
	}

	want := Summary{
		TablesChecked:        3,
		OK:                   1,
		Mismatched:           1,
		Errored:              1,
		CountMismatches:      1,
		MissingInDestination: []string{"orders"},
		ExtraInDestination:   []string{"audit_log", "zz_tmp"},
	}
	if !reflect.DeepEqual(r.Summary, want) {
		t.Errorf("Summary = %+v, want %+v", r.Summary, want)
	}
	if r.Hash.Mode != "pk-range" || r.Hash.ChunkSize != 1000 {
		t.Errorf("Hash = %+v", r.Hash)
	}
	if r.Duration() != 3*time.Second {
		t.Errorf("Duration() = %v", r.Duration())
	}
	if got := r.FailedTables(); !reflect.DeepEqual(got, []string{"items", "orders"}) {
		t.Errorf("FailedTables() = %v", got)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	in := sampleInput()
	first := Build(in)
	second := Build(in)
	if !reflect.DeepEqual(first, second) {
		t.Error("building twice from the same input produced different reports")
	}
	if in.Tables[0].Table != "users" || in.Tables[0].Status != "" {
		t.Error("Build modified its input")
	}
}

func TestBuildAllOK(t *testing.T) {
	r := Build(Input{Tables: []TableReport{
		{Table: "a", Schema: &schema.Diff{}, Count: NewCountResult(1, 1)},
		{Table: "b", Schema: &schema.Diff{}, Count: NewCountResult(0, 0)},
	}})
	if !r.AllOK() || r.ExitCode() != 0 {
		t.Errorf("expected all OK, got %s", r.Status)
	}
}

func TestBuildMismatchOnly(t *testing.T) {
	r := Build(Input{Tables: []TableReport{
		{Table: "a", Count: NewCountResult(2, 1)},
	}})
	if r.Status != StatusMismatch {
		t.Errorf("Status = %s, want MISMATCH", r.Status)
	}
}

func TestBuildCancelledIsNotOK(t *testing.T) {
	r := Build(Input{Cancelled: true})
	if r.AllOK() {
		t.Error("a cancelled run must not report OK")
	}
}

func TestSaveAndLoad(t *testing.T) {
	r := Build(sampleInput())
	path := filepath.Join(t.TempDir(), "reports", "run.json")

	if err := r.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.RunID != r.RunID || loaded.Status != r.Status || len(loaded.Tables) != 3 {
		t.Errorf("loaded report = %+v", loaded)
	}
	if loaded.Tables[1].Errors[0].Kind != "metadata" {
		t.Errorf("component error not preserved: %+v", loaded.Tables[1].Errors)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Build(sampleInput()))
	out := buf.String()

	for _, want := range []string{"users", "orders", "items", "source=7 destination=6 (diff=1)", "audit_log", "not found on destination"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
