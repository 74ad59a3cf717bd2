package discovery

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLCatalog_ListTenantTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"table_schema", "table_name"}).
		AddRow("crm", "campaigns").
		AddRow("crm", "social_posts").
		AddRow("files", "media_assets")

	mock.ExpectQuery("SELECT table_schema, table_name").
		WithArgs("org_id", "crm", "files").
		WillReturnRows(rows)

	catalog := NewMySQLCatalog(db)
	tables, err := catalog.ListTenantTables(context.Background(), []string{"crm", "files"}, "org_id")
	require.NoError(t, err)

	assert.Equal(t, []TableRef{
		{Schema: "crm", Name: "campaigns"},
		{Schema: "crm", Name: "social_posts"},
		{Schema: "files", Name: "media_assets"},
	}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_ListTenantTables_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	catalog := NewMySQLCatalog(db)

	_, err = catalog.ListTenantTables(context.Background(), nil, "org_id")
	assert.Error(t, err)

	_, err = catalog.ListTenantTables(context.Background(), []string{"crm"}, "")
	assert.Error(t, err)
}

func TestMySQLCatalog_Columns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	columnRows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
		AddRow("id", "bigint", "NO").
		AddRow("org_id", "bigint", "NO").
		AddRow("campaign_id", "bigint", "YES").
		AddRow("name", "varchar", "NO")

	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("crm", "ad_sets").
		WillReturnRows(columnRows)

	fkRows := sqlmock.NewRows([]string{
		"column_name", "referenced_table_schema", "referenced_table_name", "referenced_column_name",
	}).AddRow("campaign_id", "crm", "campaigns", "id")

	mock.ExpectQuery("SELECT column_name, referenced_table_schema").
		WithArgs("crm", "ad_sets").
		WillReturnRows(fkRows)

	catalog := NewMySQLCatalog(db)
	columns, err := catalog.Columns(context.Background(), TableRef{Schema: "crm", Name: "ad_sets"})
	require.NoError(t, err)

	require.Len(t, columns, 4)
	assert.Equal(t, "id", columns[0].Name)
	assert.False(t, columns[0].Nullable)
	assert.True(t, columns[2].Nullable)
	assert.Equal(t, "crm.campaigns", columns[2].References)
	assert.Empty(t, columns[3].References)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_Columns_UnknownTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT column_name, data_type, is_nullable").
		WithArgs("crm", "ghosts").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}))

	catalog := NewMySQLCatalog(db)
	_, err = catalog.Columns(context.Background(), TableRef{Schema: "crm", Name: "ghosts"})
	assert.ErrorContains(t, err, "not found in catalog")
}

func TestMySQLCatalog_ForeignKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"column_name", "referenced_table_schema", "referenced_table_name", "referenced_column_name",
	}).
		AddRow("campaign_id", "crm", "campaigns", "id").
		AddRow("audience_id", "crm", "audiences", "id")

	mock.ExpectQuery("SELECT column_name, referenced_table_schema").
		WithArgs("crm", "ad_sets").
		WillReturnRows(rows)

	catalog := NewMySQLCatalog(db)
	fks, err := catalog.ForeignKeys(context.Background(), TableRef{Schema: "crm", Name: "ad_sets"})
	require.NoError(t, err)

	require.Len(t, fks, 2)
	assert.Equal(t, "crm.ad_sets", fks[0].Table.String())
	assert.Equal(t, "crm.campaigns", fks[0].RefTable.String())
	assert.Equal(t, "id", fks[0].RefColumn)
}

func TestMySQLCatalog_Stats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("crm", "campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"table_rows", "avg_row_length"}).AddRow(1200, 512))

	catalog := NewMySQLCatalog(db)
	stats, err := catalog.Stats(context.Background(), TableRef{Schema: "crm", Name: "campaigns"})
	require.NoError(t, err)

	assert.Equal(t, int64(1200), stats.RowCount)
	assert.Equal(t, int64(512), stats.AvgRowBytes)
}
