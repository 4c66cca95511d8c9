// Package schema compares the structure of one table on two servers.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KimHG1995/db-migration-checker/internal/driver"
)

// ColumnDiffKind classifies a column difference.
type ColumnDiffKind string

const (
	ColumnAdded       ColumnDiffKind = "added" // destination only
	ColumnRemoved     ColumnDiffKind = "removed"
	ColumnType        ColumnDiffKind = "type_changed"
	ColumnNullability ColumnDiffKind = "nullability_changed"
	ColumnDefault     ColumnDiffKind = "default_changed"
	ColumnPosition    ColumnDiffKind = "position_changed"
)

// IndexDiffKind classifies an index difference.
type IndexDiffKind string

const (
	IndexAdded      IndexDiffKind = "added"
	IndexRemoved    IndexDiffKind = "removed"
	IndexDefinition IndexDiffKind = "definition_changed"
)

// ColumnDiff is one column difference. Source and Destination hold the
// rendered attribute that differs, empty when the column is absent.
type ColumnDiff struct {
	Column      string         `json:"column"`
	Kind        ColumnDiffKind `json:"kind"`
	Source      string         `json:"source,omitempty"`
	Destination string         `json:"destination,omitempty"`
}

// IndexDiff is one index difference. Source and Destination are normalized
// index definitions.
type IndexDiff struct {
	Name        string        `json:"name"`
	Kind        IndexDiffKind `json:"kind"`
	Source      string        `json:"source,omitempty"`
	Destination string        `json:"destination,omitempty"`
}

// PrimaryKeyDiff is reported whenever the primary key columns differ.
type PrimaryKeyDiff struct {
	Source      []string `json:"source"`
	Destination []string `json:"destination"`
}

// Diff is the structural difference of one table.
type Diff struct {
	Table      string          `json:"table"`
	Columns    []ColumnDiff    `json:"columns,omitempty"`
	Indexes    []IndexDiff     `json:"indexes,omitempty"`
	PrimaryKey *PrimaryKeyDiff `json:"primary_key,omitempty"`
}

// Empty reports whether both sides are structurally identical.
func (d *Diff) Empty() bool {
	return d == nil || (len(d.Columns) == 0 && len(d.Indexes) == 0 && d.PrimaryKey == nil)
}

// Lines renders the diff as one human-readable line per difference.
func (d *Diff) Lines() []string {
	if d.Empty() {
		return nil
	}
	var lines []string
	for _, c := range d.Columns {
		switch c.Kind {
		case ColumnAdded:
			lines = append(lines, fmt.Sprintf("column %s only in destination", c.Column))
		case ColumnRemoved:
			lines = append(lines, fmt.Sprintf("column %s missing in destination", c.Column))
		default:
			lines = append(lines, fmt.Sprintf("column %s %s: %s -> %s", c.Column, c.Kind, c.Source, c.Destination))
		}
	}
	for _, i := range d.Indexes {
		switch i.Kind {
		case IndexAdded:
			lines = append(lines, fmt.Sprintf("index %s %s only in destination", i.Name, i.Destination))
		case IndexRemoved:
			lines = append(lines, fmt.Sprintf("index %s %s missing in destination", i.Name, i.Source))
		default:
			lines = append(lines, fmt.Sprintf("index %s changed: %s -> %s", i.Name, i.Source, i.Destination))
		}
	}
	if d.PrimaryKey != nil {
		lines = append(lines, fmt.Sprintf("primary key (%s) -> (%s)",
			strings.Join(d.PrimaryKey.Source, ","), strings.Join(d.PrimaryKey.Destination, ",")))
	}
	return lines
}

// Compare diffs the structure of src against dst. Column names match
// case-insensitively. Indexes are compared by definition, so an index
// that was only renamed is not a difference.
func Compare(src, dst *driver.TableSpec) *Diff {
	d := &Diff{Table: src.Name}
	d.Columns = compareColumns(src.Columns, dst.Columns)
	d.Indexes = compareIndexes(src.Indexes, dst.Indexes)
	if !sameColumns(src.PrimaryKey, dst.PrimaryKey) {
		d.PrimaryKey = &PrimaryKeyDiff{Source: src.PrimaryKey, Destination: dst.PrimaryKey}
	}
	return d
}

func compareColumns(src, dst []driver.ColumnSpec) []ColumnDiff {
	dstByName := make(map[string]driver.ColumnSpec, len(dst))
	for _, c := range dst {
		dstByName[strings.ToLower(c.Name)] = c
	}
	srcNames := make(map[string]bool, len(src))

	var diffs []ColumnDiff
	for _, s := range src {
		key := strings.ToLower(s.Name)
		srcNames[key] = true
		t, ok := dstByName[key]
		if !ok {
			diffs = append(diffs, ColumnDiff{Column: s.Name, Kind: ColumnRemoved})
			continue
		}
		if !strings.EqualFold(s.Type, t.Type) {
			diffs = append(diffs, ColumnDiff{Column: s.Name, Kind: ColumnType, Source: s.Type, Destination: t.Type})
		}
		if s.Nullable != t.Nullable {
			diffs = append(diffs, ColumnDiff{Column: s.Name, Kind: ColumnNullability,
				Source: nullability(s.Nullable), Destination: nullability(t.Nullable)})
		}
		if !sameDefault(s.Default, t.Default) {
			diffs = append(diffs, ColumnDiff{Column: s.Name, Kind: ColumnDefault,
				Source: s.DefaultString(), Destination: t.DefaultString()})
		}
		if s.Position != t.Position {
			diffs = append(diffs, ColumnDiff{Column: s.Name, Kind: ColumnPosition,
				Source: fmt.Sprint(s.Position), Destination: fmt.Sprint(t.Position)})
		}
	}
	for _, t := range dst {
		if !srcNames[strings.ToLower(t.Name)] {
			diffs = append(diffs, ColumnDiff{Column: t.Name, Kind: ColumnAdded})
		}
	}

	sort.SliceStable(diffs, func(i, j int) bool {
		a, b := strings.ToLower(diffs[i].Column), strings.ToLower(diffs[j].Column)
		if a != b {
			return a < b
		}
		return diffs[i].Kind < diffs[j].Kind
	})
	return diffs
}

func compareIndexes(src, dst []driver.IndexSpec) []IndexDiff {
	// Definitions match first so a rename or a swap of names between two
	// indexes is not reported. Same-name pairs win within one definition.
	srcRest, dstRest := matchDefinitions(src, dst)

	dstByName := make(map[string]driver.IndexSpec, len(dstRest))
	for _, t := range dstRest {
		dstByName[strings.ToLower(t.Name)] = t
	}

	var diffs []IndexDiff
	for _, s := range srcRest {
		key := strings.ToLower(s.Name)
		t, ok := dstByName[key]
		if !ok {
			diffs = append(diffs, IndexDiff{Name: s.Name, Kind: IndexRemoved, Source: s.Definition()})
			continue
		}
		delete(dstByName, key)
		diffs = append(diffs, IndexDiff{Name: s.Name, Kind: IndexDefinition,
			Source: s.Definition(), Destination: t.Definition()})
	}
	for _, t := range dstRest {
		if _, ok := dstByName[strings.ToLower(t.Name)]; ok {
			diffs = append(diffs, IndexDiff{Name: t.Name, Kind: IndexAdded, Destination: t.Definition()})
		}
	}

	sort.SliceStable(diffs, func(i, j int) bool {
		a, b := strings.ToLower(diffs[i].Name), strings.ToLower(diffs[j].Name)
		if a != b {
			return a < b
		}
		return diffs[i].Kind < diffs[j].Kind
	})
	return diffs
}

// matchDefinitions removes every source and destination index whose
// definition has a counterpart on the other side and returns the rest in
// their original order.
func matchDefinitions(src, dst []driver.IndexSpec) (srcRest, dstRest []driver.IndexSpec) {
	srcMatched := make([]bool, len(src))
	dstMatched := make([]bool, len(dst))

	pair := func(sameName bool) {
		for i, s := range src {
			if srcMatched[i] {
				continue
			}
			for j, t := range dst {
				if dstMatched[j] || s.Definition() != t.Definition() {
					continue
				}
				if sameName && !strings.EqualFold(s.Name, t.Name) {
					continue
				}
				srcMatched[i], dstMatched[j] = true, true
				break
			}
		}
	}
	pair(true)
	pair(false)

	for i, s := range src {
		if !srcMatched[i] {
			srcRest = append(srcRest, s)
		}
	}
	for j, t := range dst {
		if !dstMatched[j] {
			dstRest = append(dstRest, t)
		}
	}
	return srcRest, dstRest
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nullability(nullable bool) string {
	if nullable {
		return "NULL"
	}
	return "NOT NULL"
}
