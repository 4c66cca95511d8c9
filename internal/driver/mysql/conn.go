package mysql

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/KimHG1995/db-migration-checker/internal/dbconfig"
	"github.com/KimHG1995/db-migration-checker/internal/driver"
	"github.com/KimHG1995/db-migration-checker/internal/logging"
)

// errNoSuchTable is the server error number for ER_NO_SUCH_TABLE.
const errNoSuchTable = 1146

var errEncodingOverflow = errors.New("row encoding returned NULL (row larger than max_allowed_packet?)")

// Conn implements driver.Database for MySQL.
type Conn struct {
	db       *sql.DB
	side     driver.Side
	database string
	dialect  *Dialect
}

var _ driver.Database = (*Conn)(nil)

// Open connects to one side and verifies the connection with a ping.
// Any failure is returned as *driver.ConnectionError.
func Open(ctx context.Context, cfg *dbconfig.DatabaseConfig, side driver.Side, maxConns int) (*Conn, error) {
	dialect := &Dialect{}
	connErr := func(err error) error {
		return &driver.ConnectionError{Side: side, Addr: cfg.Addr(), Err: err}
	}

	db, err := sql.Open("mysql", dialect.BuildDSN(cfg))
	if err != nil {
		return nil, connErr(err)
	}

	if maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, connErr(err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		logging.Debug("Could not read %s server version: %v", side, err)
	}
	dbType := "MySQL"
	if strings.Contains(strings.ToLower(version), "mariadb") {
		dbType = "MariaDB"
	}
	logging.Info("Connected to %s %s %s: %s", dbType, version, side, cfg.Endpoint())

	return NewConn(db, side, cfg.Database), nil
}

// NewConn wraps an open handle. database is the schema all queries run against.
func NewConn(db *sql.DB, side driver.Side, database string) *Conn {
	return &Conn{db: db, side: side, database: database, dialect: &Dialect{}}
}

// Close closes all connections.
func (c *Conn) Close() error {
	return c.db.Close()
}

// DB returns the underlying sql.DB.
func (c *Conn) DB() *sql.DB {
	return c.db
}

func (c *Conn) Side() driver.Side {
	return c.side
}

func (c *Conn) queryErr(table, op string, err error) error {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errNoSuchTable {
		return &driver.MetadataError{Side: c.side, Table: table, Err: err}
	}
	return &driver.QueryError{Side: c.side, Table: table, Op: op, Err: err}
}

// ListTables returns the base tables of the configured database, ordered by name.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, c.database)
	if err != nil {
		return nil, c.queryErr("", "list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, c.queryErr("", "list tables", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, c.queryErr("", "list tables", err)
	}
	return tables, nil
}

// TableSpec loads columns, indexes and the primary key of table.
func (c *Conn) TableSpec(ctx context.Context, table string) (*driver.TableSpec, error) {
	spec := &driver.TableSpec{Name: table}

	if err := c.loadColumns(ctx, spec); err != nil {
		return nil, err
	}
	if len(spec.Columns) == 0 {
		return nil, &driver.MetadataError{Side: c.side, Table: table}
	}
	if err := c.loadIndexes(ctx, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func (c *Conn) loadColumns(ctx context.Context, spec *driver.TableSpec) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, c.database, spec.Name)
	if err != nil {
		return c.queryErr(spec.Name, "load columns", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			col      driver.ColumnSpec
			nullable string
			def      sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &col.DataType, &nullable, &def, &col.Position); err != nil {
			return c.queryErr(spec.Name, "load columns", err)
		}
		col.Nullable = nullable == "YES"
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		spec.Columns = append(spec.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return c.queryErr(spec.Name, "load columns", err)
	}
	return nil
}

func (c *Conn) loadIndexes(ctx context.Context, spec *driver.TableSpec) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME, SUB_PART
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`, c.database, spec.Name)
	if err != nil {
		return c.queryErr(spec.Name, "load indexes", err)
	}
	defer rows.Close()

	byName := make(map[string]*driver.IndexSpec)
	var order []string
	for rows.Next() {
		var (
			name      string
			nonUnique int
			column    sql.NullString
			subPart   sql.NullInt64
		)
		if err := rows.Scan(&name, &nonUnique, &column, &subPart); err != nil {
			return c.queryErr(spec.Name, "load indexes", err)
		}
		// Functional key parts have no column name.
		colName := column.String
		if !column.Valid {
			colName = "<expr>"
		}

		if name == "PRIMARY" {
			spec.PrimaryKey = append(spec.PrimaryKey, colName)
			continue
		}
		idx, ok := byName[name]
		if !ok {
			idx = &driver.IndexSpec{Name: name, Unique: nonUnique == 0}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, driver.IndexColumn{Name: colName, SubPart: int(subPart.Int64)})
	}
	if err := rows.Err(); err != nil {
		return c.queryErr(spec.Name, "load indexes", err)
	}

	sort.Strings(order)
	for _, name := range order {
		spec.Indexes = append(spec.Indexes, *byName[name])
	}
	return nil
}

// RowCount returns the exact row count of table.
func (c *Conn) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, c.dialect.RowCountQuery(c.database, table)).Scan(&count); err != nil {
		return 0, c.queryErr(table, "count rows", err)
	}
	return count, nil
}

// KeyBounds returns MIN and MAX of column.
func (c *Conn) KeyBounds(ctx context.Context, table, column string) (driver.KeyBounds, error) {
	var lo, hi sql.NullInt64
	query := c.dialect.KeyBoundsQuery(c.database, table, column)
	if err := c.db.QueryRowContext(ctx, query).Scan(&lo, &hi); err != nil {
		return driver.KeyBounds{}, c.queryErr(table, "read key bounds", err)
	}
	if !lo.Valid || !hi.Valid {
		return driver.KeyBounds{Empty: true}, nil
	}
	return driver.KeyBounds{Min: lo.Int64, Max: hi.Int64}, nil
}

// ChunkDigest aggregates the rows with key in [lo, hi].
func (c *Conn) ChunkDigest(ctx context.Context, table string, columns []driver.ColumnSpec, key string, lo, hi int64) (driver.ChunkDigest, error) {
	var (
		d     driver.ChunkDigest
		nulls int64
	)
	query := c.dialect.ChunkQuery(c.database, table, columns, key)
	if err := c.db.QueryRowContext(ctx, query, lo, hi).Scan(&d.Rows, &nulls, &d.CRCSum, &d.XOR64); err != nil {
		return driver.ChunkDigest{}, c.queryErr(table, fmt.Sprintf("hash chunk [%d, %d]", lo, hi), err)
	}
	if nulls > 0 {
		return driver.ChunkDigest{}, c.queryErr(table, fmt.Sprintf("hash chunk [%d, %d]", lo, hi), errEncodingOverflow)
	}
	return d, nil
}

// SampleRowDigests streams the SHA-256 of the first limit rows in orderBy order.
func (c *Conn) SampleRowDigests(ctx context.Context, table string, columns []driver.ColumnSpec, orderBy []string, limit int, fn func(digest []byte) error) error {
	query := c.dialect.SampleQuery(c.database, table, columns, orderBy)
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return c.queryErr(table, "hash sample", err)
	}
	defer rows.Close()

	for rows.Next() {
		var digest sql.NullString
		if err := rows.Scan(&digest); err != nil {
			return c.queryErr(table, "hash sample", err)
		}
		if !digest.Valid {
			return c.queryErr(table, "hash sample", errEncodingOverflow)
		}
		raw, err := hex.DecodeString(digest.String)
		if err != nil {
			return c.queryErr(table, "hash sample", fmt.Errorf("decoding digest: %w", err))
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return c.queryErr(table, "hash sample", err)
	}
	return nil
}
