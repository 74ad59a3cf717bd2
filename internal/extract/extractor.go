package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
)

// DefaultChunkSize is the number of rows streamed per batch
const DefaultChunkSize = 1000

// Row is one extracted record keyed by column name. Values are
// JSON-compatible: string, number, bool or nil.
type Row map[string]interface{}

// TableResult accumulates per-table extraction counts for the backup summary
type TableResult struct {
	Table     string `json:"table"`
	Rows      int64  `json:"rows"`
	SizeBytes int64  `json:"size_bytes"`
}

// BatchFunc receives each streamed batch of rows. Returning an error aborts
// the extraction.
type BatchFunc func(batch []Row) error

// Extractor streams tenant-owned rows out of the tenant store
type Extractor struct {
	db        *sql.DB
	logger    *logging.Logger
	chunkSize int
}

// NewExtractor creates an extractor. A chunkSize of zero or less uses the
// default.
func NewExtractor(db *sql.DB, chunkSize int, logger *logging.Logger) *Extractor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Extractor{db: db, logger: logger, chunkSize: chunkSize}
}

// ExtractTable streams the tenant's rows from one table in bounded batches.
// The tenant scope comes from the context and filters every query; rows are
// ordered by the tenant column and emitted in chunks so the full table is
// never materialized in memory. Any failure aborts the extraction with the
// table name in the error.
func (e *Extractor) ExtractTable(ctx context.Context, table discovery.TableRef, tenantColumn string, fn BatchFunc) (TableResult, error) {
	start := time.Now()
	result := TableResult{Table: table.String()}

	orgID, err := TenantFrom(ctx)
	if err != nil {
		return result, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?",
		quoteTable(table), quoteIdent(tenantColumn))

	rows, err := e.db.QueryContext(ctx, query, orgID)
	if err != nil {
		e.logger.LogExtraction(orgID, table.String(), 0, time.Since(start), err)
		return result, errors.NewDatabaseError(
			fmt.Sprintf("extraction failed for table %s", table), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return result, errors.NewDatabaseError(
			fmt.Sprintf("extraction failed for table %s", table), err)
	}

	batch := make([]Row, 0, e.chunkSize)
	values := make([]sql.RawBytes, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			e.logger.LogExtraction(orgID, table.String(), result.Rows, time.Since(start), err)
			return result, errors.NewDatabaseError(
				fmt.Sprintf("extraction failed for table %s", table), err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if values[i] == nil {
				row[col] = nil
				continue
			}
			value := string(values[i])
			row[col] = value
			result.SizeBytes += int64(len(value))
		}
		result.Rows++

		batch = append(batch, row)
		if len(batch) == e.chunkSize {
			if err := fn(batch); err != nil {
				return result, fmt.Errorf("batch handler failed for table %s: %w", table, err)
			}
			batch = make([]Row, 0, e.chunkSize)
		}
	}
	if err := rows.Err(); err != nil {
		e.logger.LogExtraction(orgID, table.String(), result.Rows, time.Since(start), err)
		return result, errors.NewDatabaseError(
			fmt.Sprintf("extraction failed for table %s", table), err)
	}

	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return result, fmt.Errorf("batch handler failed for table %s: %w", table, err)
		}
	}

	e.logger.LogExtraction(orgID, table.String(), result.Rows, time.Since(start), nil)
	return result, nil
}

// CountRows returns the tenant's row count for one table
func (e *Extractor) CountRows(ctx context.Context, table discovery.TableRef, tenantColumn string) (int64, error) {
	orgID, err := TenantFrom(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?",
		quoteTable(table), quoteIdent(tenantColumn))

	var count int64
	if err := e.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, errors.NewDatabaseError(
			fmt.Sprintf("row count failed for table %s", table), err)
	}
	return count, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteTable(table discovery.TableRef) string {
	return quoteIdent(table.Schema) + "." + quoteIdent(table.Name)
}
