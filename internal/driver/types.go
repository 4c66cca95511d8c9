package driver

import (
	"fmt"
	"strings"
)

// Side identifies which database of a comparison a value came from.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// TableSpec is the structural metadata of one table on one side.
type TableSpec struct {
	Name       string       `json:"name"`
	Columns    []ColumnSpec `json:"columns"`     // ordinal position order
	Indexes    []IndexSpec  `json:"indexes"`     // name order, PRIMARY excluded
	PrimaryKey []string     `json:"primary_key"` // PK columns in key order
}

// HasPK returns true if the table has a primary key.
func (t *TableSpec) HasPK() bool {
	return len(t.PrimaryKey) > 0
}

// SinglePK returns the primary key column if the key has exactly one column.
func (t *TableSpec) SinglePK() (string, bool) {
	if len(t.PrimaryKey) == 1 {
		return t.PrimaryKey[0], true
	}
	return "", false
}

// Column returns the column with the given name (case-insensitive).
func (t *TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnNames returns the column names in declaration order.
func (t *TableSpec) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnSpec describes a table column.
type ColumnSpec struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`      // full declared type, e.g. "varchar(255)", "int unsigned"
	DataType string  `json:"data_type"` // base type, e.g. "varchar", "int"
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Position int     `json:"position"`
}

// IsIntegerType returns true if the column holds integer values.
func (c *ColumnSpec) IsIntegerType() bool {
	switch strings.ToLower(c.DataType) {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		return true
	}
	return false
}

// IsUnsigned reports whether the column type carries the unsigned attribute.
func (c *ColumnSpec) IsUnsigned() bool {
	return strings.Contains(strings.ToLower(c.Type), "unsigned")
}

// IsBinaryType returns true for columns whose values are raw bytes rather than text.
func (c *ColumnSpec) IsBinaryType() bool {
	switch strings.ToLower(c.DataType) {
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob", "bit",
		"geometry", "point", "linestring", "polygon", "multipoint", "multilinestring",
		"multipolygon", "geometrycollection", "geomcollection":
		return true
	}
	return false
}

// DefaultString renders the default for messages.
func (c *ColumnSpec) DefaultString() string {
	if c.Default == nil {
		return "NULL"
	}
	return fmt.Sprintf("%q", *c.Default)
}

// IndexSpec describes a secondary index.
type IndexSpec struct {
	Name    string        `json:"name"`
	Columns []IndexColumn `json:"columns"`
	Unique  bool          `json:"unique"`
}

// IndexColumn is one key part of an index.
type IndexColumn struct {
	Name    string `json:"name"`
	SubPart int    `json:"sub_part,omitempty"` // prefix length, 0 for the whole column
}

func (c IndexColumn) String() string {
	if c.SubPart > 0 {
		return fmt.Sprintf("%s(%d)", c.Name, c.SubPart)
	}
	return c.Name
}

// Definition returns a name-independent, normalized form of the index,
// e.g. "unique(email,name(10))".
func (i *IndexSpec) Definition() string {
	parts := make([]string, len(i.Columns))
	for j, c := range i.Columns {
		parts[j] = strings.ToLower(c.String())
	}
	kind := "index"
	if i.Unique {
		kind = "unique"
	}
	return kind + "(" + strings.Join(parts, ",") + ")"
}

// KeyBounds holds the MIN and MAX of an integer key column.
// Empty is true when the table has no rows.
type KeyBounds struct {
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	Empty bool  `json:"empty"`
}

// ChunkDigest is the order-insensitive aggregate of all rows in a key range.
type ChunkDigest struct {
	Rows   int64  `json:"rows"`
	CRCSum uint64 `json:"crc_sum"`
	XOR64  uint64 `json:"xor64"`
}

func (d ChunkDigest) String() string {
	return fmt.Sprintf("%d:%d:%016x", d.Rows, d.CRCSum, d.XOR64)
}
