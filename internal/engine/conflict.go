// Package engine orchestrates backup and restore runs: quota checks, the
// extract-package-store pipeline, conflict resolution during restore and the
// background workers that execute it all.
package engine

import (
	"fmt"
	"time"

	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/extract"
	"org-backup-engine/internal/store"
)

// Action is the outcome of resolving one record conflict
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Resolution carries the decided action and the row to apply. Row is nil for
// skips.
type Resolution struct {
	Action Action
	Row    extract.Row
}

// Resolver decides what happens when a backup record collides with an
// existing record. A per-record decision overrides the default strategy;
// with the "ask" strategy a missing decision is an error rather than a
// silent default.
type Resolver struct {
	Default   store.ConflictStrategy
	Decisions map[string]store.ConflictStrategy
}

// NewResolver creates a resolver with a default strategy and optional
// per-record decisions keyed "table:id".
func NewResolver(defaultStrategy store.ConflictStrategy, decisions map[string]store.ConflictStrategy) (*Resolver, error) {
	if !store.ValidStrategy(defaultStrategy) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("unknown conflict strategy %q", defaultStrategy), nil)
	}
	for key, strategy := range decisions {
		if !store.ValidStrategy(strategy) || strategy == store.StrategyAsk {
			return nil, errors.NewValidationError(
				fmt.Sprintf("invalid decision %q for record %s", strategy, key), nil)
		}
	}
	return &Resolver{Default: defaultStrategy, Decisions: decisions}, nil
}

// DecisionKey builds the per-record decision key
func DecisionKey(table string, id interface{}) string {
	return fmt.Sprintf("%s:%v", table, id)
}

// Resolve decides the action for one backup row. A nil existing row always
// inserts regardless of strategy. Resolution is deterministic: the same
// inputs always produce the same action and row.
func (r *Resolver) Resolve(table string, id interface{}, backupRow, existing extract.Row) (Resolution, error) {
	if existing == nil {
		return Resolution{Action: ActionInsert, Row: backupRow}, nil
	}

	key := DecisionKey(table, id)
	strategy := r.Default
	if decided, ok := r.Decisions[key]; ok {
		strategy = decided
	}

	switch strategy {
	case store.StrategySkip:
		return Resolution{Action: ActionSkip}, nil
	case store.StrategyReplace:
		return Resolution{Action: ActionUpdate, Row: backupRow}, nil
	case store.StrategyMerge:
		return Resolution{Action: ActionUpdate, Row: mergeRows(backupRow, existing)}, nil
	case store.StrategyAsk:
		return Resolution{}, errors.NewUnresolvedConflictError(
			fmt.Sprintf("no decision recorded for conflicting record %s", key), nil).
			WithContext("record", key)
	}

	return Resolution{}, errors.NewValidationError(
		fmt.Sprintf("unknown conflict strategy %q", strategy), nil)
}

// mergeRows unions the fields of both rows. Fields present on both sides come
// from whichever row was modified more recently; a tie, or rows without a
// usable modification timestamp, prefer the backup.
func mergeRows(backupRow, existing extract.Row) extract.Row {
	backupNewer := true
	backupTime, backupOK := modificationTime(backupRow)
	existingTime, existingOK := modificationTime(existing)
	if backupOK && existingOK && existingTime.After(backupTime) {
		backupNewer = false
	}

	merged := make(extract.Row, len(existing)+len(backupRow))
	if backupNewer {
		for col, value := range existing {
			merged[col] = value
		}
		for col, value := range backupRow {
			merged[col] = value
		}
	} else {
		for col, value := range backupRow {
			merged[col] = value
		}
		for col, value := range existing {
			merged[col] = value
		}
	}
	return merged
}

// timestampLayouts are tried in order when parsing a row's updated_at value
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func modificationTime(row extract.Row) (time.Time, bool) {
	raw, ok := row["updated_at"]
	if !ok || raw == nil {
		return time.Time{}, false
	}
	value, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
