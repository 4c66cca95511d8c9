// Package memdb is an in-memory driver.Database used by tests. It renders
// and hashes rows with the same encoding the MySQL driver pushes down to the
// server, so digests from two memdb instances compare exactly as two servers
// holding the same data would.
package memdb

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/KimHG1995/db-migration-checker/internal/driver"
)

// Op names a driver call for failure injection and call counting.
type Op string

const (
	OpListTables Op = "list_tables"
	OpTableSpec  Op = "table_spec"
	OpRowCount   Op = "row_count"
	OpKeyBounds  Op = "key_bounds"
	OpChunk      Op = "chunk_digest"
	OpSample     Op = "sample"
)

type table struct {
	spec driver.TableSpec
	rows [][]any
}

// DB is a fake database. Values are nil (NULL), string, []byte or integers.
type DB struct {
	mu       sync.Mutex
	side     driver.Side
	tables   map[string]*table
	failures map[string]error
	calls    map[Op]int
}

var _ driver.Database = (*DB)(nil)

// New returns an empty database for side.
func New(side driver.Side) *DB {
	return &DB{
		side:     side,
		tables:   make(map[string]*table),
		failures: make(map[string]error),
		calls:    make(map[Op]int),
	}
}

// CreateTable adds an empty table.
func (db *DB) CreateTable(spec driver.TableSpec) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[spec.Name] = &table{spec: spec}
}

// Insert appends a row; values follow the table's column order.
func (db *DB) Insert(name string, values ...any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.mustTable(name)
	if len(values) != len(t.spec.Columns) {
		panic(fmt.Sprintf("memdb: %s has %d columns, got %d values", name, len(t.spec.Columns), len(values)))
	}
	t.rows = append(t.rows, values)
}

// SetValue overwrites one cell of the row whose key column equals key.
func (db *DB) SetValue(name, keyColumn string, key int64, column string, value any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.mustTable(name)
	ki, ci := t.columnIndex(keyColumn), t.columnIndex(column)
	for _, row := range t.rows {
		if v, ok := asInt(row[ki]); ok && v == key {
			row[ci] = value
			return
		}
	}
	panic(fmt.Sprintf("memdb: %s has no row with %s = %d", name, keyColumn, key))
}

// FailOn makes every op call on table return err. Use "" as table for
// OpListTables.
func (db *DB) FailOn(op Op, name string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures[string(op)+"/"+name] = err
}

// Calls returns how many times op was invoked.
func (db *DB) Calls(op Op) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[op]
}

func (db *DB) Side() driver.Side { return db.side }

func (db *DB) enter(ctx context.Context, op Op, name string) error {
	db.mu.Lock()
	db.calls[op]++
	err := db.failures[string(op)+"/"+name]
	db.mu.Unlock()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &driver.QueryError{Side: db.side, Table: name, Op: string(op), Err: ctxErr}
	}
	return err
}

func (db *DB) mustTable(name string) *table {
	t, ok := db.tables[name]
	if !ok {
		panic("memdb: no table " + name)
	}
	return t
}

func (db *DB) lookup(name string) (*table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, &driver.MetadataError{Side: db.side, Table: name}
	}
	return t, nil
}

func (t *table) columnIndex(name string) int {
	for i, c := range t.spec.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	panic(fmt.Sprintf("memdb: %s has no column %s", t.spec.Name, name))
}

func (db *DB) ListTables(ctx context.Context) ([]string, error) {
	if err := db.enter(ctx, OpListTables, ""); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (db *DB) TableSpec(ctx context.Context, name string) (*driver.TableSpec, error) {
	if err := db.enter(ctx, OpTableSpec, name); err != nil {
		return nil, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	spec := t.spec
	return &spec, nil
}

func (db *DB) RowCount(ctx context.Context, name string) (int64, error) {
	if err := db.enter(ctx, OpRowCount, name); err != nil {
		return 0, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return 0, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return int64(len(t.rows)), nil
}

func (db *DB) KeyBounds(ctx context.Context, name, column string) (driver.KeyBounds, error) {
	if err := db.enter(ctx, OpKeyBounds, name); err != nil {
		return driver.KeyBounds{}, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return driver.KeyBounds{}, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	ki := t.columnIndex(column)
	b := driver.KeyBounds{Empty: true}
	for _, row := range t.rows {
		v, ok := asInt(row[ki])
		if !ok {
			continue
		}
		if b.Empty || v < b.Min {
			b.Min = v
		}
		if b.Empty || v > b.Max {
			b.Max = v
		}
		b.Empty = false
	}
	return b, nil
}

func (db *DB) ChunkDigest(ctx context.Context, name string, columns []driver.ColumnSpec, key string, lo, hi int64) (driver.ChunkDigest, error) {
	if err := db.enter(ctx, OpChunk, name); err != nil {
		return driver.ChunkDigest{}, err
	}
	t, err := db.lookup(name)
	if err != nil {
		return driver.ChunkDigest{}, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	ki := t.columnIndex(key)
	var d driver.ChunkDigest
	for _, row := range t.rows {
		v, ok := asInt(row[ki])
		if !ok || v < lo || v > hi {
			continue
		}
		enc := []byte(t.encode(row, columns))
		sum := md5.Sum(enc)
		d.Rows++
		d.CRCSum += uint64(crc32.ChecksumIEEE(enc))
		d.XOR64 ^= binary.BigEndian.Uint64(sum[:8])
	}
	return d, nil
}

func (db *DB) SampleRowDigests(ctx context.Context, name string, columns []driver.ColumnSpec, orderBy []string, limit int, fn func(digest []byte) error) error {
	if err := db.enter(ctx, OpSample, name); err != nil {
		return err
	}
	t, err := db.lookup(name)
	if err != nil {
		return err
	}

	db.mu.Lock()
	rows := make([][]any, len(t.rows))
	copy(rows, t.rows)
	idx := make([]int, len(orderBy))
	for i, c := range orderBy {
		idx[i] = t.columnIndex(c)
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for _, i := range idx {
			if c := compare(rows[a][i], rows[b][i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	if limit < len(rows) {
		rows = rows[:limit]
	}
	digests := make([][]byte, len(rows))
	for i, row := range rows {
		sum := sha256.Sum256([]byte(t.encode(row, columns)))
		digests[i] = sum[:]
	}
	db.mu.Unlock()

	for _, d := range digests {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// encode mirrors the server-side row expression: "N" for NULL, otherwise
// "V<char length>:<text>", binary values rendered as upper-case hex.
func (t *table) encode(row []any, columns []driver.ColumnSpec) string {
	var sb strings.Builder
	for _, c := range columns {
		v := row[t.columnIndex(c.Name)]
		if v == nil {
			sb.WriteString("N")
			continue
		}
		text := render(v)
		if c.IsBinaryType() {
			text = strings.ToUpper(hex.EncodeToString([]byte(text)))
		}
		fmt.Fprintf(&sb, "V%d:%s", utf8.RuneCountInString(text), text)
	}
	return sb.String()
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := asInt(a); ok {
		if y, ok := asInt(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(render(a), render(b))
}
