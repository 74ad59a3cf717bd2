package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Catalog is the port the engine uses to introspect the tenant store. It is
// backed by whatever catalog API the storage engine offers; table names are
// never hard-coded.
type Catalog interface {
	// ListTenantTables returns every table in the given schemas that carries
	// the tenant-scope column. An unreachable catalog fails the whole call.
	ListTenantTables(ctx context.Context, schemas []string, tenantColumn string) ([]TableRef, error)

	// Columns returns the ordered column definitions for a table, with
	// foreign-key targets resolved onto the referencing columns.
	Columns(ctx context.Context, table TableRef) ([]Column, error)

	// ForeignKeys returns the outgoing foreign-key edges of a table
	ForeignKeys(ctx context.Context, table TableRef) ([]ForeignKey, error)

	// Stats returns row-count and average-row-size statistics for a table
	Stats(ctx context.Context, table TableRef) (TableStats, error)
}

// MySQLCatalog implements Catalog against information_schema. Logical
// schemas map onto MySQL databases.
type MySQLCatalog struct {
	db *sql.DB
}

// NewMySQLCatalog creates a catalog backed by the given connection pool
func NewMySQLCatalog(db *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

// ListTenantTables lists tables carrying the tenant-scope column
func (c *MySQLCatalog) ListTenantTables(ctx context.Context, schemas []string, tenantColumn string) ([]TableRef, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("at least one schema is required")
	}
	if tenantColumn == "" {
		return nil, fmt.Errorf("tenant column name is required")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(schemas)), ",")
	query := fmt.Sprintf(`
		SELECT table_schema, table_name
		FROM information_schema.columns
		WHERE column_name = ?
		  AND table_schema IN (%s)
		ORDER BY table_schema, table_name`, placeholders)

	args := make([]interface{}, 0, len(schemas)+1)
	args = append(args, tenantColumn)
	for _, schema := range schemas {
		args = append(args, schema)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant tables: %w", err)
	}
	defer rows.Close()

	var tables []TableRef
	for rows.Next() {
		var table TableRef
		if err := rows.Scan(&table.Schema, &table.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tenant tables: %w", err)
	}

	return tables, nil
}

// Columns returns ordered column definitions with FK targets attached
func (c *MySQLCatalog) Columns(ctx context.Context, table TableRef) ([]Column, error) {
	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := c.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns for %s: %w", table, err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found in catalog", table)
	}

	fks, err := c.ForeignKeys(ctx, table)
	if err != nil {
		return nil, err
	}

	refByColumn := make(map[string]string, len(fks))
	for _, fk := range fks {
		refByColumn[fk.Column] = fk.RefTable.String()
	}
	for i := range columns {
		if ref, ok := refByColumn[columns[i].Name]; ok {
			columns[i].References = ref
		}
	}

	return columns, nil
}

// ForeignKeys returns the outgoing foreign-key edges of a table
func (c *MySQLCatalog) ForeignKeys(ctx context.Context, table TableRef) ([]ForeignKey, error) {
	query := `
		SELECT column_name, referenced_table_schema, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ?
		  AND referenced_table_name IS NOT NULL
		ORDER BY ordinal_position`

	rows, err := c.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys for %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		fk := ForeignKey{Table: table}
		if err := rows.Scan(&fk.Column, &fk.RefTable.Schema, &fk.RefTable.Name, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read foreign keys for %s: %w", table, err)
	}

	return fks, nil
}

// Stats returns catalog statistics used for size estimation
func (c *MySQLCatalog) Stats(ctx context.Context, table TableRef) (TableStats, error) {
	query := `
		SELECT COALESCE(table_rows, 0), COALESCE(avg_row_length, 0)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`

	var stats TableStats
	err := c.db.QueryRowContext(ctx, query, table.Schema, table.Name).
		Scan(&stats.RowCount, &stats.AvgRowBytes)
	if err == sql.ErrNoRows {
		return TableStats{}, fmt.Errorf("table %s not found in catalog", table)
	}
	if err != nil {
		return TableStats{}, fmt.Errorf("failed to read stats for %s: %w", table, err)
	}

	return stats, nil
}
