package checksum

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/KimHG1995/db-migration-checker/internal/driver"
	"github.com/KimHG1995/db-migration-checker/internal/logging"
)

// Status is the outcome of hashing one table.
type Status string

const (
	StatusMatch    Status = "match"
	StatusMismatch Status = "mismatch"
	StatusSkipped  Status = "skipped"
)

// ProbabilisticNote is attached to every computed result.
const ProbabilisticNote = "digest equality is probabilistic: a collision can hide a difference"

// DefaultMaxChunks bounds the chunks one table may be split into.
const DefaultMaxChunks int64 = 1_000_000

// TooManyChunksError means the source key range is too sparse to cover
// with the configured chunk size. It unwraps to an UnsupportedKeyError.
type TooManyChunksError struct {
	Table  string
	Column string
	Bounds driver.KeyBounds
	Chunks int64
	Limit  int64
}

func (e *TooManyChunksError) Error() string {
	return fmt.Sprintf("table %s: key range [%d, %d] of %s needs %d chunks, limit is %d",
		e.Table, e.Bounds.Min, e.Bounds.Max, e.Column, e.Chunks, e.Limit)
}

func (e *TooManyChunksError) Unwrap() error {
	return &driver.UnsupportedKeyError{Table: e.Table,
		Reason: fmt.Sprintf("key range of %s too sparse for the chunk size, raise the chunk size or use sample mode", e.Column)}
}

// ChunkResult is the comparison of one key range.
type ChunkResult struct {
	Index       int64              `json:"index"`
	Range       Range              `json:"range"`
	Source      driver.ChunkDigest `json:"source"`
	Destination driver.ChunkDigest `json:"destination"`
	Match       bool               `json:"match"`
}

// Result is the content comparison of one table.
type Result struct {
	Mode    string   `json:"mode"`
	Status  Status   `json:"status"`
	Match   bool     `json:"match"`
	Reason  string   `json:"reason,omitempty"` // why hashing was skipped
	Columns []string `json:"columns,omitempty"`
	Notes   []string `json:"notes,omitempty"`

	// Sample mode.
	OrderKey          *OrderKey `json:"order_key,omitempty"`
	SourceRows        int64     `json:"source_rows,omitempty"`
	DestinationRows   int64     `json:"destination_rows,omitempty"`
	SourceDigest      string    `json:"source_digest,omitempty"`
	DestinationDigest string    `json:"destination_digest,omitempty"`

	// PK-range mode.
	KeyColumn         string            `json:"key_column,omitempty"`
	ChunkSize         int64             `json:"chunk_size,omitempty"`
	SourceBounds      *driver.KeyBounds `json:"source_bounds,omitempty"`
	DestinationBounds *driver.KeyBounds `json:"destination_bounds,omitempty"`
	ChunksTotal       int64             `json:"chunks_total,omitempty"`
	ChunksEvaluated   int64             `json:"chunks_evaluated,omitempty"`
	MismatchedChunks  []int64           `json:"mismatched_chunks,omitempty"`
	Chunks            []ChunkResult     `json:"chunks,omitempty"`
}

// Skipped returns the result recorded when hashing did not run.
func Skipped(mode Mode, reason string) *Result {
	r := &Result{Status: StatusSkipped, Reason: reason}
	if mode != nil {
		r.Mode = mode.Name()
	}
	return r
}

// FirstMismatch returns the lowest-index mismatching chunk, if any.
func (r *Result) FirstMismatch() (ChunkResult, bool) {
	for _, c := range r.Chunks {
		if !c.Match {
			return c, true
		}
	}
	return ChunkResult{}, false
}

func (r *Result) finish(match bool) *Result {
	r.Match = match
	r.Status = StatusMismatch
	if match {
		r.Status = StatusMatch
	}
	r.Notes = append(r.Notes, ProbabilisticNote)
	return r
}

// Options tunes a Hasher.
type Options struct {
	// NewAccumulator builds the sample-mode accumulator. Defaults to NewSHA256.
	NewAccumulator func() Accumulator
	// ChunkWorkers bounds concurrent chunk comparisons per table.
	ChunkWorkers int
	// StopOnFirstMismatch stops scheduling chunks after one mismatches.
	StopOnFirstMismatch bool
	// MaxChunks rejects tables whose key range needs more chunks.
	// Defaults to DefaultMaxChunks.
	MaxChunks int64
}

type strategy func(ctx context.Context, j *job) (*Result, error)

// Hasher compares table contents with one fixed mode.
type Hasher struct {
	mode Mode
	opts Options
	run  strategy
}

type job struct {
	table    string
	src, dst *driver.TableSpec
	srcDB    driver.Database
	dstDB    driver.Database
	columns  []driver.ColumnSpec
	result   *Result
}

// NewHasher validates mode and binds the matching strategy.
func NewHasher(mode Mode, opts Options) (*Hasher, error) {
	if mode == nil {
		return nil, errors.New("checksum: no hash mode")
	}
	if err := mode.validate(); err != nil {
		return nil, err
	}
	if opts.NewAccumulator == nil {
		opts.NewAccumulator = NewSHA256
	}
	if opts.ChunkWorkers < 1 {
		opts.ChunkWorkers = 1
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunks
	}

	h := &Hasher{mode: mode, opts: opts}
	switch m := mode.(type) {
	case Sample:
		h.run = func(ctx context.Context, j *job) (*Result, error) { return h.sample(ctx, j, m) }
	case PkRange:
		h.run = func(ctx context.Context, j *job) (*Result, error) { return h.pkRange(ctx, j, m) }
	default:
		return nil, fmt.Errorf("checksum: unsupported mode %T", mode)
	}
	return h, nil
}

// Mode returns the mode the hasher was built with.
func (h *Hasher) Mode() Mode { return h.mode }

// Hash compares the contents of table on both sides. Only columns present
// on both sides are hashed, in source declaration order.
func (h *Hasher) Hash(ctx context.Context, table string, src, dst *driver.TableSpec, srcDB, dstDB driver.Database) (*Result, error) {
	columns, excluded := commonColumns(src, dst)
	j := &job{
		table:   table,
		src:     src,
		dst:     dst,
		srcDB:   srcDB,
		dstDB:   dstDB,
		columns: columns,
		result:  &Result{Mode: h.mode.Name()},
	}
	for _, c := range columns {
		j.result.Columns = append(j.result.Columns, c.Name)
	}
	if len(excluded) > 0 {
		j.result.Notes = append(j.result.Notes,
			"columns not present on both sides are not hashed: "+strings.Join(excluded, ", "))
	}
	return h.run(ctx, j)
}

func (h *Hasher) sample(ctx context.Context, j *job, m Sample) (*Result, error) {
	key := SelectOrderKey(j.src)
	if len(key.Columns) == 0 {
		return nil, &driver.UnsupportedKeyError{Table: j.table, Reason: "table has no columns to order by"}
	}
	for _, c := range key.Columns {
		if _, ok := j.dst.Column(c); !ok {
			return nil, &driver.UnsupportedKeyError{Table: j.table,
				Reason: fmt.Sprintf("ordering column %s missing on destination", c)}
		}
	}

	res := j.result
	res.OrderKey = &key
	switch {
	case key.LowConfidence && key.Tier == TierUniqueIndex:
		res.Notes = append(res.Notes, fmt.Sprintf(
			"no primary key and unique index on (%s) allows NULLs: rows with NULL keys may order differently per server (low confidence)",
			strings.Join(key.Columns, ", ")))
	case key.LowConfidence:
		res.Notes = append(res.Notes, fmt.Sprintf(
			"no primary key or unique index: rows ordered by %s, ties may order differently per server (low confidence)", key.Columns[0]))
	}

	type sideDigest struct {
		rows   int64
		digest string
	}
	var srcOut, dstOut sideDigest
	hashSide := func(ctx context.Context, db driver.Database, out *sideDigest) error {
		acc := h.opts.NewAccumulator()
		err := db.SampleRowDigests(ctx, j.table, j.columns, key.Columns, m.Limit, func(d []byte) error {
			acc.Accumulate(d)
			out.rows++
			return nil
		})
		if err != nil {
			return err
		}
		out.digest = acc.Finalize()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hashSide(gctx, j.srcDB, &srcOut) })
	g.Go(func() error { return hashSide(gctx, j.dstDB, &dstOut) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.SourceRows, res.DestinationRows = srcOut.rows, dstOut.rows
	res.SourceDigest, res.DestinationDigest = srcOut.digest, dstOut.digest
	logging.Debug("%s: sample digest over %d/%d rows ordered by %v (%s)",
		j.table, srcOut.rows, dstOut.rows, key.Columns, key.Tier)
	return res.finish(srcOut.rows == dstOut.rows && srcOut.digest == dstOut.digest), nil
}

func (h *Hasher) pkRangeKey(j *job, m PkRange) (string, error) {
	name := m.Column
	if name == "" {
		switch len(j.src.PrimaryKey) {
		case 0:
			return "", &driver.UnsupportedKeyError{Table: j.table, Reason: "table has no primary key"}
		case 1:
			name = j.src.PrimaryKey[0]
		default:
			return "", &driver.UnsupportedKeyError{Table: j.table,
				Reason: fmt.Sprintf("composite primary key (%s)", strings.Join(j.src.PrimaryKey, ", "))}
		}
	}

	col, ok := j.src.Column(name)
	if !ok {
		return "", &driver.UnsupportedKeyError{Table: j.table, Reason: fmt.Sprintf("column %s not found", name)}
	}
	if !col.IsIntegerType() {
		return "", &driver.UnsupportedKeyError{Table: j.table,
			Reason: fmt.Sprintf("column %s is %s, not an integer", col.Name, col.Type)}
	}
	// Key bounds and chunk ranges are int64.
	if strings.EqualFold(col.DataType, "bigint") && col.IsUnsigned() {
		return "", &driver.UnsupportedKeyError{Table: j.table,
			Reason: fmt.Sprintf("column %s is %s, values above 2^63-1 cannot be chunked", col.Name, col.Type)}
	}
	if _, ok := j.dst.Column(name); !ok {
		return "", &driver.UnsupportedKeyError{Table: j.table,
			Reason: fmt.Sprintf("column %s missing on destination", col.Name)}
	}
	return col.Name, nil
}

func (h *Hasher) pkRange(ctx context.Context, j *job, m PkRange) (*Result, error) {
	key, err := h.pkRangeKey(j, m)
	if err != nil {
		return nil, err
	}

	var srcBounds, dstBounds driver.KeyBounds
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		srcBounds, err = j.srcDB.KeyBounds(gctx, j.table, key)
		return err
	})
	g.Go(func() (err error) {
		dstBounds, err = j.dstDB.KeyBounds(gctx, j.table, key)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := j.result
	res.KeyColumn = key
	res.ChunkSize = m.ChunkSize
	res.SourceBounds, res.DestinationBounds = &srcBounds, &dstBounds

	outside := false
	switch {
	case srcBounds.Empty && !dstBounds.Empty:
		outside = true
		res.Notes = append(res.Notes, fmt.Sprintf(
			"source is empty but destination has keys in [%d, %d]", dstBounds.Min, dstBounds.Max))
	case !dstBounds.Empty && (dstBounds.Min < srcBounds.Min || dstBounds.Max > srcBounds.Max):
		outside = true
		res.Notes = append(res.Notes, fmt.Sprintf(
			"destination key range [%d, %d] extends beyond source range [%d, %d]",
			dstBounds.Min, dstBounds.Max, srcBounds.Min, srcBounds.Max))
	}

	if srcBounds.Empty {
		return res.finish(!outside), nil
	}

	total := ChunkCount(srcBounds.Min, srcBounds.Max, m.ChunkSize)
	if total > h.opts.MaxChunks {
		return nil, &TooManyChunksError{Table: j.table, Column: key, Bounds: srcBounds,
			Chunks: total, Limit: h.opts.MaxChunks}
	}
	res.ChunksTotal = total
	chunks, err := h.compareChunks(ctx, j, key, srcBounds, m.ChunkSize, total)
	if err != nil {
		return nil, err
	}

	match := !outside
	for _, c := range chunks {
		res.ChunksEvaluated++
		if !c.Match {
			match = false
			res.MismatchedChunks = append(res.MismatchedChunks, c.Index)
		}
	}
	res.Chunks = chunks
	logging.Debug("%s: %d/%d chunks evaluated on %s, %d mismatched",
		j.table, res.ChunksEvaluated, total, key, len(res.MismatchedChunks))
	return res.finish(match), nil
}

// compareChunks evaluates chunks on a bounded pool and returns the
// evaluated ones in chunk order.
func (h *Hasher) compareChunks(ctx context.Context, j *job, key string, b driver.KeyBounds, size, total int64) ([]ChunkResult, error) {
	var (
		mu        sync.Mutex
		evaluated []ChunkResult
		stop      atomic.Bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.ChunkWorkers)
	for i := int64(0); i < total; i++ {
		if stop.Load() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stop.Load() {
				return nil
			}
			r := ChunkAt(b.Min, b.Max, size, i)
			s, err := j.srcDB.ChunkDigest(gctx, j.table, j.columns, key, r.Lo, r.Hi)
			if err != nil {
				return err
			}
			d, err := j.dstDB.ChunkDigest(gctx, j.table, j.columns, key, r.Lo, r.Hi)
			if err != nil {
				return err
			}
			mu.Lock()
			evaluated = append(evaluated, ChunkResult{Index: i, Range: r, Source: s, Destination: d, Match: s == d})
			mu.Unlock()
			if s != d {
				logging.Debug("%s: chunk %d [%d, %d] differs: %s vs %s", j.table, i, r.Lo, r.Hi, s, d)
				if h.opts.StopOnFirstMismatch {
					stop.Store(true)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(evaluated, func(a, b int) bool { return evaluated[a].Index < evaluated[b].Index })
	return evaluated, nil
}
