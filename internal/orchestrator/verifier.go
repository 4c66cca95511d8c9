// Package orchestrator runs a verification: it resolves the table list,
// checks every table on a bounded worker pool and folds the results into
// a report.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/KimHG1995/db-migration-checker/internal/checksum"
	"github.com/KimHG1995/db-migration-checker/internal/config"
	"github.com/KimHG1995/db-migration-checker/internal/driver"
	"github.com/KimHG1995/db-migration-checker/internal/logging"
	"github.com/KimHG1995/db-migration-checker/internal/progress"
	"github.com/KimHG1995/db-migration-checker/internal/report"
	"github.com/KimHG1995/db-migration-checker/internal/schema"
	"github.com/KimHG1995/db-migration-checker/internal/util"
)

// Verifier compares one source and one destination database.
type Verifier struct {
	cfg      *config.Config
	src      driver.Database
	dst      driver.Database
	hasher   *checksum.Hasher // nil when hashing is off
	progress *progress.Tracker
	now      func() time.Time
	runID    string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithProgress draws a progress bar over tables.
func WithProgress(t *progress.Tracker) Option {
	return func(v *Verifier) { v.progress = t }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(v *Verifier) { v.runID = id }
}

// New creates a verifier. cfg must already be validated.
func New(cfg *config.Config, src, dst driver.Database, opts ...Option) (*Verifier, error) {
	v := &Verifier{cfg: cfg, src: src, dst: dst, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if mode := cfg.HashMode(); mode != nil {
		h, err := checksum.NewHasher(mode, checksum.Options{
			ChunkWorkers:        cfg.Verify.ChunkWorkers,
			StopOnFirstMismatch: cfg.Verify.StopOnFirstChunkMismatch,
		})
		if err != nil {
			return nil, err
		}
		v.hasher = h
	}
	return v, nil
}

// Plan is the resolved table list of a run.
type Plan struct {
	Tables             []string // tables to verify, in order
	ExtraInDestination []string // destination-only tables, discovery mode only
}

// ResolveTables returns the tables to verify: the configured list, or every
// source base table when none is configured, minus exclude_tables. In
// discovery mode destination tables absent from the source are reported as
// extras.
func (v *Verifier) ResolveTables(ctx context.Context) (*Plan, error) {
	srcTables, err := v.src.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing source tables: %w", err)
	}

	exclude := v.cfg.Verify.ExcludeTables
	candidates := v.cfg.Verify.Tables
	discovery := len(candidates) == 0
	if discovery {
		candidates = srcTables
	}
	plan := &Plan{Tables: util.SelectNames(candidates, exclude)}

	if discovery {
		dstTables, err := v.dst.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing destination tables: %w", err)
		}
		plan.ExtraInDestination = util.Missing(dstTables, srcTables, exclude)
	}
	return plan, nil
}

// Run resolves the tables to verify and runs the plan. An error is
// returned only when the run could not start; per-table failures are
// recorded in the report.
func (v *Verifier) Run(ctx context.Context) (*report.MigrationReport, error) {
	startedAt := v.now()
	plan, err := v.ResolveTables(ctx)
	if err != nil {
		return nil, err
	}
	return v.runPlan(ctx, plan, startedAt), nil
}

// RunPlan verifies the tables of a plan from ResolveTables and returns the
// report. When ctx is cancelled, or fail_fast trips, no new table is
// started and unfinished tables are reported as cancelled.
func (v *Verifier) RunPlan(ctx context.Context, plan *Plan) *report.MigrationReport {
	return v.runPlan(ctx, plan, v.now())
}

func (v *Verifier) runPlan(ctx context.Context, plan *Plan, startedAt time.Time) *report.MigrationReport {
	runID := v.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	hash := report.NewHashSettings(v.cfg.HashMode())
	logging.Info("Run %s: verifying %d tables (hash: %s, workers: %d)",
		runID, len(plan.Tables), hash.Mode, v.cfg.Verify.Workers)
	if v.progress != nil {
		v.progress.Start(len(plan.Tables))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]report.TableReport, len(plan.Tables))
	done := make([]bool, len(plan.Tables))

	g := new(errgroup.Group)
	g.SetLimit(v.cfg.Verify.Workers)
	for i, name := range plan.Tables {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			tr := v.verifyTable(runCtx, name)
			tr.Status = report.DeriveStatus(&tr)
			results[i] = tr
			done[i] = true

			logTable(&tr)
			if v.progress != nil {
				v.progress.TableDone(tr.Status == report.StatusOK)
			}
			if v.cfg.Verify.FailFast && tr.Status != report.StatusOK {
				logging.Warn("fail_fast: stopping after %s", name)
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	cancelled := false
	for i, name := range plan.Tables {
		if done[i] {
			continue
		}
		cancelled = true
		results[i] = report.TableReport{
			Table: name,
			Errors: []report.ComponentError{{
				Component: report.ComponentTable,
				Kind:      "cancelled",
				Message:   "cancelled before verification",
			}},
		}
	}
	if ctx.Err() != nil {
		cancelled = true
	}
	if v.progress != nil {
		v.progress.Finish()
	}

	r := report.Build(report.Input{
		RunID:              runID,
		StartedAt:          startedAt,
		CompletedAt:        v.now(),
		Source:             v.cfg.Source.Endpoint(),
		Destination:        v.cfg.Destination.Endpoint(),
		Hash:               hash,
		Tables:             results,
		ExtraInDestination: plan.ExtraInDestination,
		Cancelled:          cancelled,
	})
	logging.Info("Run %s finished: %s (ok=%d mismatched=%d errored=%d) in %s",
		r.RunID, r.Status, r.Summary.OK, r.Summary.Mismatched, r.Summary.Errored, r.Duration().Round(time.Millisecond))
	return r
}

// verifyTable runs catalog retrieval and row counts on both sides
// concurrently, then compares schemas and, when enabled, hashes content.
func (v *Verifier) verifyTable(ctx context.Context, name string) report.TableReport {
	start := time.Now()
	tr := report.TableReport{Table: name}

	var (
		srcSpec, dstSpec         *driver.TableSpec
		srcCount, dstCount       int64
		srcSpecErr, dstSpecErr   error
		srcCountErr, dstCountErr error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		srcSpec, srcSpecErr = v.src.TableSpec(ctx, name)
		return nil
	})
	g.Go(func() error {
		dstSpec, dstSpecErr = v.dst.TableSpec(ctx, name)
		return nil
	})
	g.Go(func() error {
		srcCount, srcCountErr = v.src.RowCount(ctx, name)
		return nil
	})
	g.Go(func() error {
		dstCount, dstCountErr = v.dst.RowCount(ctx, name)
		return nil
	})
	_ = g.Wait()

	for _, err := range []error{srcSpecErr, dstSpecErr} {
		if err != nil {
			tr.Errors = append(tr.Errors, report.NewComponentError(report.ComponentCatalog, err))
		}
	}
	if srcSpecErr == nil && dstSpecErr == nil {
		tr.Schema = schema.Compare(srcSpec, dstSpec)
	}

	for _, err := range []error{srcCountErr, dstCountErr} {
		if err != nil && !isMissingTable(err) {
			tr.Errors = append(tr.Errors, report.NewComponentError(report.ComponentCount, err))
		}
	}
	if srcCountErr == nil && dstCountErr == nil {
		tr.Count = report.NewCountResult(srcCount, dstCount)
	}

	if v.hasher != nil {
		tr.Hash = v.hashTable(ctx, &tr, srcSpec, dstSpec)
	}

	tr.DurationMs = time.Since(start).Milliseconds()
	return tr
}

func (v *Verifier) hashTable(ctx context.Context, tr *report.TableReport, srcSpec, dstSpec *driver.TableSpec) *checksum.Result {
	mode := v.hasher.Mode()
	switch {
	case srcSpec == nil || dstSpec == nil:
		return checksum.Skipped(mode, "table metadata unavailable")
	case tr.Count == nil:
		return checksum.Skipped(mode, "row count unavailable")
	case v.cfg.Verify.SkipHashOnCountMismatch && tr.Count.Delta != 0:
		return checksum.Skipped(mode, "row counts differ")
	}

	res, err := v.hasher.Hash(ctx, tr.Table, srcSpec, dstSpec, v.src, v.dst)
	if err != nil {
		tr.Errors = append(tr.Errors, report.NewComponentError(report.ComponentHash, err))
		return checksum.Skipped(mode, err.Error())
	}
	return res
}

// isMissingTable reports whether err is a MetadataError. A table missing on
// one side is already recorded by the catalog step.
func isMissingTable(err error) bool {
	return driver.ErrorKind(err) == "metadata"
}

func logTable(tr *report.TableReport) {
	switch tr.Status {
	case report.StatusOK:
		rows := int64(0)
		if tr.Count != nil {
			rows = tr.Count.Source
		}
		logging.Info("%-30s OK %d rows", tr.Table, rows)
	case report.StatusMismatch:
		logging.Error("%-30s MISMATCH %s", tr.Table, mismatchDetail(tr))
	default:
		msg := "unknown error"
		if len(tr.Errors) > 0 {
			msg = tr.Errors[0].Message
		} else if tr.Hash != nil && tr.Hash.Reason != "" {
			msg = "hash skipped: " + tr.Hash.Reason
		}
		logging.Error("%-30s ERROR: %s", tr.Table, msg)
	}
}

func mismatchDetail(tr *report.TableReport) string {
	var parts []string
	if !tr.Schema.Empty() {
		parts = append(parts, fmt.Sprintf("schema (%d differences)", len(tr.Schema.Lines())))
	}
	if tr.Count != nil && tr.Count.Delta != 0 {
		parts = append(parts, fmt.Sprintf("source=%d destination=%d (diff=%d)",
			tr.Count.Source, tr.Count.Destination, tr.Count.Delta))
	}
	if tr.Hash != nil && tr.Hash.Status == checksum.StatusMismatch {
		if c, ok := tr.Hash.FirstMismatch(); ok {
			parts = append(parts, fmt.Sprintf("hash chunk %d [%d,%d]", c.Index, c.Range.Lo, c.Range.Hi))
		} else {
			parts = append(parts, "hash")
		}
	}
	return strings.Join(parts, ", ")
}
