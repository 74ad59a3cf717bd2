// Package discovery enumerates tenant-scoped tables across logical schemas,
// categorizes them into business domains, resolves foreign-key dependency
// order, and builds point-in-time schema snapshots used for restore
// compatibility checks.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"org-backup-engine/internal/logging"
)

// CategoryOther is assigned to tables no category pattern recognizes
const CategoryOther = "Other"

// SnapshotVersion is stamped onto snapshots this package produces
const SnapshotVersion = "1.0"

// Config controls table discovery
type Config struct {
	// Schemas are the logical schemas scanned for tenant tables
	Schemas []string `yaml:"schemas"`

	// TenantColumn is the column marking a table as tenant-scoped
	TenantColumn string `yaml:"tenant_column"`

	// ExcludedTables are qualified names never included in backups,
	// typically the engine's own bookkeeping tables.
	ExcludedTables []string `yaml:"excluded_tables"`

	// CategoryMapping maps a category to the qualified tables it owns.
	// Tables not mapped here fall through to pattern matching.
	CategoryMapping map[string][]string `yaml:"category_mapping"`

	// CategoryPatterns maps a category to substrings matched against
	// table names during auto-categorization.
	CategoryPatterns map[string][]string `yaml:"category_patterns"`
}

// SetDefaults fills in configuration defaults
func (c *Config) SetDefaults() {
	if c.TenantColumn == "" {
		c.TenantColumn = "org_id"
	}
	if c.CategoryPatterns == nil {
		c.CategoryPatterns = map[string][]string{
			"campaigns":    {"campaign", "ad_set", "ad_group", "ad_"},
			"social_posts": {"social_post", "post_media", "post_comment"},
			"analytics":    {"metric", "analytics", "report", "performance"},
			"audiences":    {"audience", "segment", "targeting"},
			"integrations": {"integration", "connection", "credential", "platform_"},
			"automations":  {"automation", "trigger", "action", "rule"},
		}
	}
}

// Service discovers tenant schema structure through a Catalog port
type Service struct {
	catalog Catalog
	config  Config
	logger  *logging.Logger

	excluded map[string]bool
	mapped   map[string]string // qualified table -> category
}

// NewService creates a discovery service
func NewService(catalog Catalog, config Config, logger *logging.Logger) *Service {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	excluded := make(map[string]bool, len(config.ExcludedTables))
	for _, t := range config.ExcludedTables {
		excluded[t] = true
	}

	mapped := make(map[string]string)
	for category, tables := range config.CategoryMapping {
		for _, t := range tables {
			mapped[t] = category
		}
	}

	return &Service{
		catalog:  catalog,
		config:   config,
		logger:   logger,
		excluded: excluded,
		mapped:   mapped,
	}
}

// DiscoverTenantTables enumerates tenant-scoped tables across all configured
// schemas, minus the exclusion list. A catalog failure is fatal to the whole
// call; there are no partial results.
func (s *Service) DiscoverTenantTables(ctx context.Context) ([]TableRef, error) {
	start := time.Now()

	tables, err := s.catalog.ListTenantTables(ctx, s.config.Schemas, s.config.TenantColumn)
	if err != nil {
		s.logger.LogDiscovery("", 0, time.Since(start), err)
		return nil, fmt.Errorf("schema discovery failed: %w", err)
	}

	filtered := make([]TableRef, 0, len(tables))
	for _, table := range tables {
		if s.excluded[table.String()] {
			continue
		}
		filtered = append(filtered, table)
	}

	s.logger.LogDiscovery("", len(filtered), time.Since(start), nil)
	return filtered, nil
}

// GetTableSchema returns the ordered column definitions of one table,
// including foreign-key targets, with its category label attached.
func (s *Service) GetTableSchema(ctx context.Context, table TableRef) (*TableSchema, error) {
	columns, err := s.catalog.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema for %s: %w", table, err)
	}

	return &TableSchema{
		Table:    table,
		Columns:  columns,
		Category: s.Categorize(table),
	}, nil
}

// Categorize maps a table to its business category. Explicit mapping wins,
// then name patterns; unrecognized tables map to "Other".
func (s *Service) Categorize(table TableRef) string {
	if category, ok := s.mapped[table.String()]; ok {
		return category
	}

	name := strings.ToLower(table.Name)

	// Sorted category iteration keeps categorization deterministic when a
	// name matches patterns from more than one category.
	categories := make([]string, 0, len(s.config.CategoryPatterns))
	for category := range s.config.CategoryPatterns {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		for _, pattern := range s.config.CategoryPatterns[category] {
			if strings.Contains(name, pattern) {
				return category
			}
		}
	}

	return CategoryOther
}

// ForeignKeys collects the outgoing FK edges of every table in the set,
// keeping only edges whose parent is also in the set.
func (s *Service) ForeignKeys(ctx context.Context, tables []TableRef) ([]ForeignKey, error) {
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t.String()] = true
	}

	var edges []ForeignKey
	for _, table := range tables {
		fks, err := s.catalog.ForeignKeys(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read foreign keys for %s: %w", table, err)
		}
		for _, fk := range fks {
			if inSet[fk.RefTable.String()] {
				edges = append(edges, fk)
			}
		}
	}

	return edges, nil
}

// CreateSnapshot captures the current column definitions of the given tables
func (s *Service) CreateSnapshot(ctx context.Context, tables []TableRef) (*Snapshot, error) {
	snapshot := &Snapshot{
		Version:   SnapshotVersion,
		CreatedAt: time.Now().UTC(),
		Tables:    make(map[string][]Column, len(tables)),
	}

	for _, table := range tables {
		columns, err := s.catalog.Columns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("snapshot failed for %s: %w", table, err)
		}
		snapshot.Tables[table.String()] = columns
	}

	return snapshot, nil
}

// CompareSnapshots diffs two snapshots table by table. The old snapshot is
// the one stored with a backup; the new one reflects the live schema.
func CompareSnapshots(old, new *Snapshot) *SnapshotDiff {
	diff := &SnapshotDiff{Tables: make(map[string]TableDiff)}

	for table, oldColumns := range old.Tables {
		newColumns, exists := new.Tables[table]
		if !exists {
			diff.MissingTables = append(diff.MissingTables, table)
			continue
		}

		tableDiff := compareColumns(oldColumns, newColumns)
		if !tableDiff.Empty() {
			diff.Tables[table] = tableDiff
		}
	}

	for table := range new.Tables {
		if _, exists := old.Tables[table]; !exists {
			diff.NewTables = append(diff.NewTables, table)
		}
	}

	sort.Strings(diff.MissingTables)
	sort.Strings(diff.NewTables)

	return diff
}

func compareColumns(oldColumns, newColumns []Column) TableDiff {
	var diff TableDiff

	oldByName := make(map[string]Column, len(oldColumns))
	for _, col := range oldColumns {
		oldByName[col.Name] = col
	}
	newByName := make(map[string]Column, len(newColumns))
	for _, col := range newColumns {
		newByName[col.Name] = col
	}

	for _, col := range oldColumns {
		newCol, exists := newByName[col.Name]
		if !exists {
			diff.RemovedColumns = append(diff.RemovedColumns, col)
			continue
		}
		if newCol.DataType != col.DataType || newCol.Nullable != col.Nullable {
			diff.ModifiedColumns = append(diff.ModifiedColumns, ColumnChange{
				Name: col.Name,
				Old:  col,
				New:  newCol,
			})
		}
	}

	for _, col := range newColumns {
		if _, exists := oldByName[col.Name]; !exists {
			diff.AddedColumns = append(diff.AddedColumns, col)
		}
	}

	return diff
}

// EstimateSize approximates the total and per-table byte size of the given
// tables from catalog row statistics.
func (s *Service) EstimateSize(ctx context.Context, tables []TableRef) (*SizeEstimate, error) {
	estimate := &SizeEstimate{PerTable: make(map[string]int64, len(tables))}

	for _, table := range tables {
		stats, err := s.catalog.Stats(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("size estimation failed for %s: %w", table, err)
		}
		bytes := stats.RowCount * stats.AvgRowBytes
		estimate.PerTable[table.String()] = bytes
		estimate.TotalBytes += bytes
	}

	return estimate, nil
}

// TablesForCategories returns the subset of tables belonging to the given
// categories, preserving input order. An empty category list selects all.
func (s *Service) TablesForCategories(tables []TableRef, categories []string) []TableRef {
	if len(categories) == 0 {
		result := make([]TableRef, len(tables))
		copy(result, tables)
		return result
	}

	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	var result []TableRef
	for _, table := range tables {
		if wanted[s.Categorize(table)] {
			result = append(result, table)
		}
	}
	return result
}
