package mysql

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/KimHG1995/db-migration-checker/internal/driver"
)

func newMockConn(t *testing.T) (*Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewConn(db, driver.SideSource, "app"), mock
}

func TestListTables(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.TABLES")).
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("orders").AddRow("users"))

	tables, err := conn.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error: %v", err)
	}
	if len(tables) != 2 || tables[0] != "orders" || tables[1] != "users" {
		t.Errorf("ListTables() = %v", tables)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTableSpec(t *testing.T) {
	conn, mock := newMockConn(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.COLUMNS")).
		WithArgs("app", "users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "ORDINAL_POSITION"}).
			AddRow("id", "bigint unsigned", "bigint", "NO", nil, 1).
			AddRow("email", "varchar(255)", "varchar", "NO", nil, 2).
			AddRow("status", "varchar(16)", "varchar", "YES", "active", 3))

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.STATISTICS")).
		WithArgs("app", "users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "NON_UNIQUE", "COLUMN_NAME", "SUB_PART"}).
			AddRow("PRIMARY", 0, "id", nil).
			AddRow("idx_status", 1, "status", nil).
			AddRow("uq_email", 0, "email", 10))

	spec, err := conn.TableSpec(context.Background(), "users")
	if err != nil {
		t.Fatalf("TableSpec() error: %v", err)
	}

	if len(spec.Columns) != 3 {
		t.Fatalf("got %d columns, want 3", len(spec.Columns))
	}
	if spec.Columns[0].Type != "bigint unsigned" || spec.Columns[0].Nullable {
		t.Errorf("id column = %+v", spec.Columns[0])
	}
	if !spec.Columns[2].Nullable || spec.Columns[2].Default == nil || *spec.Columns[2].Default != "active" {
		t.Errorf("status column = %+v", spec.Columns[2])
	}
	if spec.Columns[1].Default != nil {
		t.Errorf("email default = %v, want nil", *spec.Columns[1].Default)
	}

	if pk, ok := spec.SinglePK(); !ok || pk != "id" {
		t.Errorf("PrimaryKey = %v", spec.PrimaryKey)
	}
	if len(spec.Indexes) != 2 {
		t.Fatalf("got %d indexes, want 2 (PRIMARY excluded)", len(spec.Indexes))
	}
	if spec.Indexes[0].Name != "idx_status" || spec.Indexes[0].Unique {
		t.Errorf("first index = %+v", spec.Indexes[0])
	}
	if got := spec.Indexes[1].Definition(); got != "unique(email(10))" {
		t.Errorf("uq_email definition = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTableSpecMissingTable(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.COLUMNS")).
		WithArgs("app", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_TYPE", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "ORDINAL_POSITION"}))

	_, err := conn.TableSpec(context.Background(), "ghost")
	var metaErr *driver.MetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("TableSpec() error = %v, want *MetadataError", err)
	}
	if metaErr.Table != "ghost" || metaErr.Side != driver.SideSource {
		t.Errorf("MetadataError = %+v", metaErr)
	}
}

func TestRowCount(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `app`.`users`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1000))

	n, err := conn.RowCount(context.Background(), "users")
	if err != nil {
		t.Fatalf("RowCount() error: %v", err)
	}
	if n != 1000 {
		t.Errorf("RowCount() = %d, want 1000", n)
	}
}

func TestRowCountErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"missing table", &gomysql.MySQLError{Number: 1146, Message: "Table 'app.users' doesn't exist"}, "metadata"},
		{"lock wait", &gomysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, "query"},
		{"cancelled", context.Canceled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, mock := newMockConn(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).WillReturnError(tt.err)

			_, err := conn.RowCount(context.Background(), "users")
			if got := driver.ErrorKind(err); got != tt.wantKind {
				t.Errorf("ErrorKind(%v) = %q, want %q", err, got, tt.wantKind)
			}
		})
	}
}

func TestKeyBounds(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(`id`), MAX(`id`) FROM `app`.`users`")).
		WillReturnRows(sqlmock.NewRows([]string{"MIN", "MAX"}).AddRow(1, 5))

	b, err := conn.KeyBounds(context.Background(), "users", "id")
	if err != nil {
		t.Fatalf("KeyBounds() error: %v", err)
	}
	if b.Empty || b.Min != 1 || b.Max != 5 {
		t.Errorf("KeyBounds() = %+v", b)
	}
}

func TestKeyBoundsEmptyTable(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(`id`)")).
		WillReturnRows(sqlmock.NewRows([]string{"MIN", "MAX"}).AddRow(nil, nil))

	b, err := conn.KeyBounds(context.Background(), "users", "id")
	if err != nil {
		t.Fatalf("KeyBounds() error: %v", err)
	}
	if !b.Empty {
		t.Errorf("KeyBounds() = %+v, want Empty", b)
	}
}

func TestChunkDigest(t *testing.T) {
	conn, mock := newMockConn(t)
	cols := []driver.ColumnSpec{{Name: "id", DataType: "int"}, {Name: "email", DataType: "varchar"}}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE `id` BETWEEN ? AND ?")).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"n", "nulls", "crc", "xor"}).
			AddRow(2, 0, []byte("5000000000"), []byte("18446744073709551615")))

	d, err := conn.ChunkDigest(context.Background(), "users", cols, "id", 1, 2)
	if err != nil {
		t.Fatalf("ChunkDigest() error: %v", err)
	}
	if d.Rows != 2 || d.CRCSum != 5000000000 || d.XOR64 != ^uint64(0) {
		t.Errorf("ChunkDigest() = %+v", d)
	}
}

func TestChunkDigestEncodingOverflow(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("BETWEEN ? AND ?")).
		WithArgs(1, 10).
		WillReturnRows(sqlmock.NewRows([]string{"n", "nulls", "crc", "xor"}).AddRow(10, 1, 0, 0))

	_, err := conn.ChunkDigest(context.Background(), "docs", []driver.ColumnSpec{{Name: "body", DataType: "longtext"}}, "id", 1, 10)
	if !errors.Is(err, errEncodingOverflow) {
		t.Errorf("ChunkDigest() error = %v, want encoding overflow", err)
	}
}

func TestSampleRowDigests(t *testing.T) {
	conn, mock := newMockConn(t)
	first := sha256.Sum256([]byte("a"))
	second := sha256.Sum256([]byte("b"))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY `id` LIMIT ?")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"digest"}).
			AddRow(hex.EncodeToString(first[:])).
			AddRow(hex.EncodeToString(second[:])))

	var got [][]byte
	err := conn.SampleRowDigests(context.Background(), "users", []driver.ColumnSpec{{Name: "id", DataType: "int"}}, []string{"id"}, 2,
		func(d []byte) error {
			got = append(got, d)
			return nil
		})
	if err != nil {
		t.Fatalf("SampleRowDigests() error: %v", err)
	}
	if len(got) != 2 || string(got[0]) != string(first[:]) || string(got[1]) != string(second[:]) {
		t.Errorf("digests out of order or missing: %x", got)
	}
}

func TestSampleRowDigestsNullDigest(t *testing.T) {
	conn, mock := newMockConn(t)
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"digest"}).AddRow(nil))

	err := conn.SampleRowDigests(context.Background(), "users", []driver.ColumnSpec{{Name: "id", DataType: "int"}}, []string{"id"}, 1,
		func([]byte) error { return nil })
	if !errors.Is(err, errEncodingOverflow) {
		t.Errorf("SampleRowDigests() error = %v, want encoding overflow", err)
	}
}
