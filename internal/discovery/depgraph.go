package discovery

import (
	"org-backup-engine/internal/logging"
)

// OrderTables sorts tables so that every foreign-key parent appears before
// its children. The sort is deterministic for a given input order. Cycles
// never fail the ordering: when no cycle-free candidate remains, the
// earliest-discovered remaining table is emitted and the broken edges are
// logged. Every input table appears in the output exactly once.
func OrderTables(tables []TableRef, fks []ForeignKey, logger *logging.Logger) []TableRef {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.String()] = i
	}

	// parents[child] holds the distinct in-set parents the child waits on.
	// Self-references never order a table against itself.
	parents := make(map[int]map[int]bool)
	children := make(map[int][]int)
	for _, fk := range fks {
		child, okChild := index[fk.Table.String()]
		parent, okParent := index[fk.RefTable.String()]
		if !okChild || !okParent || child == parent {
			continue
		}
		if parents[child] == nil {
			parents[child] = make(map[int]bool)
		}
		if !parents[child][parent] {
			parents[child][parent] = true
			children[parent] = append(children[parent], child)
		}
	}

	emitted := make([]bool, len(tables))
	pending := make([]int, len(tables))
	for i := range tables {
		pending[i] = len(parents[i])
	}

	ordered := make([]TableRef, 0, len(tables))
	emit := func(i int) {
		emitted[i] = true
		ordered = append(ordered, tables[i])
		for _, child := range children[i] {
			pending[child]--
		}
	}

	for len(ordered) < len(tables) {
		progressed := false
		for i := range tables {
			if !emitted[i] && pending[i] == 0 {
				emit(i)
				progressed = true
			}
		}
		if progressed {
			continue
		}

		// Every remaining table sits on a cycle. Break it at the
		// earliest-discovered remaining table.
		for i := range tables {
			if emitted[i] {
				continue
			}
			for parent := range parents[i] {
				if !emitted[parent] {
					logger.LogCycleBreak(tables[i].String(), tables[parent].String())
				}
			}
			emit(i)
			break
		}
	}

	return ordered
}
