package mysql

import (
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/KimHG1995/db-migration-checker/internal/dbconfig"
	"github.com/KimHG1995/db-migration-checker/internal/driver"
)

// DefaultConnectTimeout is used when the config leaves connect_timeout unset.
const DefaultConnectTimeout = 10 * time.Second

// Dialect builds the MySQL statements used by the verifier.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mysql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ColumnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// BuildDSN returns the driver DSN for cfg. The session is pinned to utf8mb4
// and UTC so both sides render values identically for hashing.
func (d *Dialect) BuildDSN(cfg *dbconfig.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	mc.DBName = cfg.Database
	mc.Collation = "utf8mb4_general_ci"
	mc.Loc = time.UTC
	mc.ParseTime = false
	mc.InterpolateParams = true
	mc.TLSConfig = tlsMode(cfg.SSLMode)
	mc.Params = map[string]string{"time_zone": "'+00:00'"}

	mc.Timeout = cfg.ConnectTimeout
	if mc.Timeout <= 0 {
		mc.Timeout = DefaultConnectTimeout
	}
	mc.ReadTimeout = cfg.ReadTimeout
	mc.WriteTimeout = cfg.WriteTimeout

	return mc.FormatDSN()
}

func tlsMode(sslMode string) string {
	switch strings.ToLower(sslMode) {
	case "disable", "disabled", "false":
		return "false"
	case "require", "required":
		return "skip-verify"
	case "verify-ca", "verify_ca", "verify-full", "verify_full", "verify-identity", "verify_identity", "true":
		return "true"
	default:
		return "preferred"
	}
}

// RowExpr renders a row as one self-delimiting string:
// NULL is "N", any other value is "V<char length>:<text>". Text is the
// utf8mb4 rendering of the value, or HEX() for binary families.
// Length prefixes make the encoding unambiguous without a separator.
func (d *Dialect) RowExpr(cols []driver.ColumnSpec) string {
	if len(cols) == 0 {
		return "''"
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		q := d.QuoteIdentifier(c.Name)
		v := fmt.Sprintf("CAST(%s AS CHAR CHARACTER SET utf8mb4)", q)
		if c.IsBinaryType() {
			v = fmt.Sprintf("HEX(%s)", q)
		}
		parts[i] = fmt.Sprintf("IF(%s IS NULL, 'N', CONCAT('V', CHAR_LENGTH(%s), ':', %s))", q, v, v)
	}
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}

// SampleQuery returns the per-row digests of the first ? rows in orderBy order.
func (d *Dialect) SampleQuery(schema, table string, cols []driver.ColumnSpec, orderBy []string) string {
	return fmt.Sprintf(`SELECT SHA2(%s, 256) FROM %s ORDER BY %s LIMIT ?`,
		d.RowExpr(cols), d.QualifyTable(schema, table), d.ColumnList(orderBy))
}

// ChunkQuery aggregates rows with key BETWEEN ? AND ?. The second column
// counts rows whose encoding came back NULL, which MySQL does when the
// encoded row exceeds max_allowed_packet.
func (d *Dialect) ChunkQuery(schema, table string, cols []driver.ColumnSpec, key string) string {
	return fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(r IS NULL), 0),
			COALESCE(SUM(CRC32(r)), 0),
			COALESCE(BIT_XOR(CAST(CONV(SUBSTRING(MD5(r), 1, 16), 16, 10) AS UNSIGNED)), 0)
		FROM (
			SELECT %s AS r FROM %s WHERE %s BETWEEN ? AND ?
		) AS chunk
	`, d.RowExpr(cols), d.QualifyTable(schema, table), d.QuoteIdentifier(key))
}

// KeyBoundsQuery returns MIN and MAX of key.
func (d *Dialect) KeyBoundsQuery(schema, table, key string) string {
	qKey := d.QuoteIdentifier(key)
	return fmt.Sprintf(`SELECT MIN(%s), MAX(%s) FROM %s`, qKey, qKey, d.QualifyTable(schema, table))
}

// RowCountQuery returns the exact row count statement.
func (d *Dialect) RowCountQuery(schema, table string) string {
	return fmt.Sprintf(`SELECT COUNT(*) FROM %s`, d.QualifyTable(schema, table))
}
