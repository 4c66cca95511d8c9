package checksum

import (
	"sort"

	"github.com/KimHG1995/db-migration-checker/internal/driver"
)

// Ordering key tiers, strongest first.
const (
	TierPrimaryKey          = "primary_key"
	TierCompositePrimaryKey = "composite_primary_key"
	TierUniqueIndex         = "unique_index"
	TierFirstColumn         = "first_column"
)

// OrderKey is the ORDER BY used for sample hashing.
type OrderKey struct {
	Columns       []string `json:"columns"`
	Tier          string   `json:"tier"`
	LowConfidence bool     `json:"low_confidence,omitempty"`
}

// SelectOrderKey picks the sample ordering for spec: the primary key, else
// the first unique index by name (its first column leads, the rest break
// ties), else the first declared column. Unique indexes over NOT NULL
// columns are preferred. A unique index with a nullable column admits
// duplicate NULL keys, so that choice and the first-column fallback are
// low-confidence: ties make row order server dependent.
func SelectOrderKey(spec *driver.TableSpec) OrderKey {
	switch len(spec.PrimaryKey) {
	case 0:
	case 1:
		return OrderKey{Columns: []string{spec.PrimaryKey[0]}, Tier: TierPrimaryKey}
	default:
		return OrderKey{Columns: append([]string(nil), spec.PrimaryKey...), Tier: TierCompositePrimaryKey}
	}

	uniques := make([]driver.IndexSpec, 0, len(spec.Indexes))
	for _, idx := range spec.Indexes {
		if idx.Unique && len(idx.Columns) > 0 && !hasExpression(idx) {
			uniques = append(uniques, idx)
		}
	}
	if len(uniques) > 0 {
		sort.SliceStable(uniques, func(i, j int) bool {
			ni, nj := hasNullable(spec, uniques[i]), hasNullable(spec, uniques[j])
			if ni != nj {
				return nj
			}
			return uniques[i].Name < uniques[j].Name
		})
		cols := make([]string, len(uniques[0].Columns))
		for i, c := range uniques[0].Columns {
			cols[i] = c.Name
		}
		return OrderKey{Columns: cols, Tier: TierUniqueIndex, LowConfidence: hasNullable(spec, uniques[0])}
	}

	if len(spec.Columns) == 0 {
		return OrderKey{Tier: TierFirstColumn, LowConfidence: true}
	}
	return OrderKey{Columns: []string{spec.Columns[0].Name}, Tier: TierFirstColumn, LowConfidence: true}
}

func hasExpression(idx driver.IndexSpec) bool {
	for _, c := range idx.Columns {
		if c.Name == "<expr>" {
			return true
		}
	}
	return false
}

func hasNullable(spec *driver.TableSpec, idx driver.IndexSpec) bool {
	for _, c := range idx.Columns {
		if col, ok := spec.Column(c.Name); ok && col.Nullable {
			return true
		}
	}
	return false
}

// commonColumns returns the source columns also present on the destination,
// in source order, plus the names of those that are not.
func commonColumns(src, dst *driver.TableSpec) (common []driver.ColumnSpec, excluded []string) {
	for _, c := range src.Columns {
		if _, ok := dst.Column(c.Name); ok {
			common = append(common, c)
		} else {
			excluded = append(excluded, c.Name)
		}
	}
	for _, c := range dst.Columns {
		if _, ok := src.Column(c.Name); !ok {
			excluded = append(excluded, c.Name)
		}
	}
	return common, excluded
}
