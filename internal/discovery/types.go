package discovery

import (
	"fmt"
	"time"
)

// TableRef identifies a table within a logical schema (namespace)
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// String returns the qualified "schema.table" form
func (t TableRef) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// ParseTableRef splits a qualified "schema.table" identifier
func ParseTableRef(qualified string) (TableRef, error) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			if i == 0 || i == len(qualified)-1 {
				break
			}
			return TableRef{Schema: qualified[:i], Name: qualified[i+1:]}, nil
		}
	}
	return TableRef{}, fmt.Errorf("invalid table identifier %q: expected schema.table", qualified)
}

// Column describes a single table column
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	References string `json:"references,omitempty"` // qualified parent table for FK columns
}

// ForeignKey describes one foreign-key edge: Table.Column references
// RefTable.RefColumn. In dependency terms Table is the child and RefTable
// the parent.
type ForeignKey struct {
	Table     TableRef `json:"table"`
	Column    string   `json:"column"`
	RefTable  TableRef `json:"ref_table"`
	RefColumn string   `json:"ref_column"`
}

// TableSchema holds the ordered column definitions of one table
type TableSchema struct {
	Table    TableRef `json:"table"`
	Columns  []Column `json:"columns"`
	Category string   `json:"category"`
}

// Snapshot is a point-in-time capture of the discovered schema, stored with
// each backup so restore can check compatibility.
type Snapshot struct {
	Version   string              `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	Tables    map[string][]Column `json:"tables"` // keyed by qualified table name
}

// ColumnChange describes a column whose definition changed between snapshots
type ColumnChange struct {
	Name string `json:"name"`
	Old  Column `json:"old"`
	New  Column `json:"new"`
}

// TableDiff lists per-table differences between two snapshots
type TableDiff struct {
	AddedColumns    []Column       `json:"added_columns,omitempty"`
	RemovedColumns  []Column       `json:"removed_columns,omitempty"`
	ModifiedColumns []ColumnChange `json:"modified_columns,omitempty"`
}

// Empty reports whether the diff contains no changes
func (d TableDiff) Empty() bool {
	return len(d.AddedColumns) == 0 && len(d.RemovedColumns) == 0 && len(d.ModifiedColumns) == 0
}

// SnapshotDiff is the result of comparing two snapshots
type SnapshotDiff struct {
	Tables        map[string]TableDiff `json:"tables"`
	MissingTables []string             `json:"missing_tables,omitempty"` // present in old, absent in new
	NewTables     []string             `json:"new_tables,omitempty"`     // present in new, absent in old
}

// Compatible reports whether a restore can proceed without acknowledging
// schema gaps: no tables missing and no columns removed since the backup.
func (d SnapshotDiff) Compatible() bool {
	if len(d.MissingTables) > 0 {
		return false
	}
	for _, diff := range d.Tables {
		if len(diff.RemovedColumns) > 0 {
			return false
		}
	}
	return true
}

// SizeEstimate approximates on-disk size of a table set via row-count and
// average-row-size statistics.
type SizeEstimate struct {
	TotalBytes int64            `json:"total_bytes"`
	PerTable   map[string]int64 `json:"per_table"`
}

// TableStats holds catalog statistics for one table
type TableStats struct {
	RowCount    int64 `json:"row_count"`
	AvgRowBytes int64 `json:"avg_row_bytes"`
}
