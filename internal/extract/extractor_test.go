package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
)

var campaignsTable = discovery.TableRef{Schema: "crm", Name: "campaigns"}

func TestTenantContext(t *testing.T) {
	ctx := WithTenant(context.Background(), "org-42")
	orgID, err := TenantFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org-42", orgID)
}

func TestTenantFrom_MissingScope(t *testing.T) {
	_, err := TenantFrom(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestExtractTable_StreamsInChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "org_id", "name"})
	for i := 1; i <= 5; i++ {
		rows.AddRow(fmt.Sprintf("%d", i), "org-42", fmt.Sprintf("campaign %d", i))
	}

	mock.ExpectQuery("SELECT \\* FROM `crm`.`campaigns` WHERE `org_id` = \\?").
		WithArgs("org-42").
		WillReturnRows(rows)

	extractor := NewExtractor(db, 2, nil)
	ctx := WithTenant(context.Background(), "org-42")

	var batches [][]Row
	result, err := extractor.ExtractTable(ctx, campaignsTable, "org_id", func(batch []Row) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.Rows)
	assert.Positive(t, result.SizeBytes)
	require.Len(t, batches, 3) // 2 + 2 + 1
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "campaign 1", batches[0][0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractTable_NullValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM").
		WithArgs("org-42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "description"}).AddRow("1", nil))

	extractor := NewExtractor(db, 0, nil)
	ctx := WithTenant(context.Background(), "org-42")

	var captured []Row
	_, err = extractor.ExtractTable(ctx, campaignsTable, "org_id", func(batch []Row) error {
		captured = append(captured, batch...)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, captured, 1)
	assert.Nil(t, captured[0]["description"])
}

func TestExtractTable_RequiresTenantScope(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	extractor := NewExtractor(db, 0, nil)
	_, err = extractor.ExtractTable(context.Background(), campaignsTable, "org_id", func([]Row) error {
		return nil
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestExtractTable_QueryFailureNamesTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM").
		WithArgs("org-42").
		WillReturnError(fmt.Errorf("table is marked as crashed"))

	extractor := NewExtractor(db, 0, nil)
	ctx := WithTenant(context.Background(), "org-42")

	_, err = extractor.ExtractTable(ctx, campaignsTable, "org_id", func([]Row) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm.campaigns")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDatabase))
}

func TestExtractTable_BatchHandlerFailureAborts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2")
	mock.ExpectQuery("SELECT \\* FROM").
		WithArgs("org-42").
		WillReturnRows(rows)

	extractor := NewExtractor(db, 1, nil)
	ctx := WithTenant(context.Background(), "org-42")

	calls := 0
	_, err = extractor.ExtractTable(ctx, campaignsTable, "org_id", func([]Row) error {
		calls++
		return fmt.Errorf("archive write failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCountRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `crm`.`campaigns`").
		WithArgs("org-42").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(37))

	extractor := NewExtractor(db, 0, nil)
	ctx := WithTenant(context.Background(), "org-42")

	count, err := extractor.CountRows(ctx, campaignsTable, "org_id")
	require.NoError(t, err)
	assert.Equal(t, int64(37), count)
}
