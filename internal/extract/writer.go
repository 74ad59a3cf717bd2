package extract

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
)

// DefaultWriteBatchSize is the number of rows per multi-value insert
const DefaultWriteBatchSize = 500

// Writer applies backup rows back into the tenant store during restore.
// All writes run inside a caller-owned transaction so a category is either
// fully applied or rolled back.
type Writer struct {
	db        *sql.DB
	logger    *logging.Logger
	batchSize int
}

// NewWriter creates a writer. A batchSize of zero or less uses the default.
func NewWriter(db *sql.DB, batchSize int, logger *logging.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultWriteBatchSize
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Writer{db: db, logger: logger, batchSize: batchSize}
}

// Begin opens the transaction bracketing one category's writes
func (w *Writer) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to begin restore transaction", err)
	}
	return tx, nil
}

// ExistingRow fetches the tenant's current row with the given identity.
// The second return reports whether a row exists.
func (w *Writer) ExistingRow(ctx context.Context, tx *sql.Tx, table discovery.TableRef, tenantColumn, idColumn string, id interface{}) (Row, bool, error) {
	orgID, err := TenantFrom(ctx)
	if err != nil {
		return nil, false, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? AND %s = ?",
		quoteTable(table), quoteIdent(tenantColumn), quoteIdent(idColumn))

	rows, err := tx.QueryContext(ctx, query, orgID, id)
	if err != nil {
		return nil, false, errors.NewDatabaseError(
			fmt.Sprintf("row lookup failed for table %s", table), err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, errors.NewDatabaseError(
				fmt.Sprintf("row lookup failed for table %s", table), err)
		}
		return nil, false, nil
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, false, errors.NewDatabaseError(
			fmt.Sprintf("row lookup failed for table %s", table), err)
	}

	values := make([]sql.RawBytes, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return nil, false, errors.NewDatabaseError(
			fmt.Sprintf("row lookup failed for table %s", table), err)
	}

	row := make(Row, len(columns))
	for i, col := range columns {
		if values[i] == nil {
			row[col] = nil
		} else {
			row[col] = string(values[i])
		}
	}
	return row, true, nil
}

// InsertRows writes rows in multi-value batches. Only the given columns are
// written; row fields outside the column set are dropped, which is how data
// for columns removed since the backup stays out of the store.
func (w *Writer) InsertRows(ctx context.Context, tx *sql.Tx, table discovery.TableRef, columns []string, batch []Row) error {
	if len(batch) == 0 {
		return nil
	}
	if len(columns) == 0 {
		return errors.NewValidationError(
			fmt.Sprintf("no writable columns for table %s", table), nil)
	}
	if _, err := TenantFrom(ctx); err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	for start := 0; start < len(batch); start += w.batchSize {
		end := start + w.batchSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			placeholders[i] = placeholder
			for _, col := range columns {
				args = append(args, row[col])
			}
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quoteTable(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.NewDatabaseError(
				fmt.Sprintf("insert failed for table %s", table), err)
		}
	}

	return nil
}

// UpdateRow overwrites the tenant's existing row identified by idColumn with
// the given column values.
func (w *Writer) UpdateRow(ctx context.Context, tx *sql.Tx, table discovery.TableRef, tenantColumn, idColumn string, columns []string, row Row) error {
	orgID, err := TenantFrom(ctx)
	if err != nil {
		return err
	}

	assignments := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns)+2)
	for _, col := range columns {
		if col == idColumn || col == tenantColumn {
			continue
		}
		assignments = append(assignments, quoteIdent(col)+" = ?")
		args = append(args, row[col])
	}
	if len(assignments) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? AND %s = ?",
		quoteTable(table), strings.Join(assignments, ", "),
		quoteIdent(tenantColumn), quoteIdent(idColumn))
	args = append(args, orgID, row[idColumn])

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.NewDatabaseError(
			fmt.Sprintf("update failed for table %s", table), err)
	}
	return nil
}

// DeleteTenantRows removes every row the tenant owns in a table. Full
// restores clear each selected table before re-inserting backup data.
func (w *Writer) DeleteTenantRows(ctx context.Context, tx *sql.Tx, table discovery.TableRef, tenantColumn string) (int64, error) {
	orgID, err := TenantFrom(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		quoteTable(table), quoteIdent(tenantColumn))

	result, err := tx.ExecContext(ctx, query, orgID)
	if err != nil {
		return 0, errors.NewDatabaseError(
			fmt.Sprintf("delete failed for table %s", table), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// WritableColumns intersects a backup row's fields with the table's current
// columns, in a stable order. Fields for removed columns drop out here.
func WritableColumns(row Row, current []discovery.Column) []string {
	currentSet := make(map[string]bool, len(current))
	for _, col := range current {
		currentSet[col.Name] = true
	}

	var columns []string
	for field := range row {
		if currentSet[field] {
			columns = append(columns, field)
		}
	}
	sort.Strings(columns)
	return columns
}
