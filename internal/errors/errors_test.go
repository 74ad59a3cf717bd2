package errors

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Error(t *testing.T) {
	err := NewQuotaError("monthly backup limit reached", nil)
	assert.Contains(t, err.Error(), "QUOTA_EXCEEDED")
	assert.Contains(t, err.Error(), "monthly backup limit reached")

	wrapped := NewStorageError("upload failed", fmt.Errorf("connection reset"))
	assert.Contains(t, wrapped.Error(), "caused by: connection reset")
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewStorageError("write failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestEngineError_WithContext(t *testing.T) {
	err := NewValidationError("bad input", nil).
		WithContext("field", "frequency").
		WithContext("value", "fortnightly")
	assert.Equal(t, "frequency", err.Context["field"])
	assert.Equal(t, "fortnightly", err.Context["value"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewNetworkError("timeout", nil)))
	assert.True(t, IsRetryable(NewStorageError("upload failed", nil)))
	assert.False(t, IsRetryable(NewQuotaError("limit reached", nil)))
	assert.False(t, IsRetryable(NewValidationError("bad input", nil)))
	assert.False(t, IsRetryable(NewTimeoutError("job exceeded budget", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestIsRetryable_WrappedError(t *testing.T) {
	err := fmt.Errorf("while uploading: %w", NewStorageError("put failed", nil))
	assert.True(t, IsRetryable(err))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(NewRollbackExpiredError("window elapsed", nil)))
	assert.True(t, IsPermanent(NewUnresolvedConflictError("no decision", nil)))
	assert.False(t, IsPermanent(NewNetworkError("timeout", nil)))
}

func TestIsType(t *testing.T) {
	err := NewNotFoundError("backup not found", nil)
	assert.True(t, IsType(err, ErrorTypeNotFound))
	assert.False(t, IsType(err, ErrorTypeQuota))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeNotFound))
}

func TestClassify_MySQLErrors(t *testing.T) {
	tests := []struct {
		number   uint16
		expected ErrorType
	}{
		{1045, ErrorTypeConfiguration},
		{1049, ErrorTypeConfiguration},
		{1146, ErrorTypeSchemaIncompatible},
		{1054, ErrorTypeSchemaIncompatible},
		{1062, ErrorTypeDatabase},
		{2003, ErrorTypeNetwork},
		{2006, ErrorTypeNetwork},
		{9999, ErrorTypeDatabase},
	}

	for _, tt := range tests {
		err := &mysql.MySQLError{Number: tt.number, Message: "test"}
		classified := Classify(err)
		require.NotNil(t, classified)
		assert.Equal(t, tt.expected, classified.Type, "mysql error %d", tt.number)
		assert.Equal(t, tt.number, classified.Context["mysql_error_code"])
	}
}

func TestClassify_DriverErrors(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, Classify(sql.ErrNoRows).Type)
	assert.Equal(t, ErrorTypeDatabase, Classify(sql.ErrTxDone).Type)
	assert.Equal(t, ErrorTypeNetwork, Classify(sql.ErrConnDone).Type)
}

func TestClassify_ContextErrors(t *testing.T) {
	assert.Equal(t, ErrorTypeTimeout, Classify(context.DeadlineExceeded).Type)
	assert.Equal(t, ErrorTypeInterruption, Classify(context.Canceled).Type)
}

func TestClassify_PassThrough(t *testing.T) {
	original := NewQuotaError("limit reached", nil)
	assert.Same(t, original, Classify(original))
}

func TestClassify_Unknown(t *testing.T) {
	classified := Classify(fmt.Errorf("something odd"))
	assert.Equal(t, ErrorTypeFatal, classified.Type)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeIntegrity, GetErrorType(NewIntegrityError("checksum mismatch", nil)))
	assert.Equal(t, ErrorTypeFatal, GetErrorType(fmt.Errorf("plain")))
}
