// Package errors defines the typed error taxonomy shared by the backup and
// restore pipelines, plus classification of low-level driver errors into it.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrorType classifies engine errors
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "VALIDATION_ERROR"
	ErrorTypeQuota              ErrorType = "QUOTA_EXCEEDED"
	ErrorTypeNotFound           ErrorType = "NOT_FOUND"
	ErrorTypeSchemaIncompatible ErrorType = "SCHEMA_INCOMPATIBLE"
	ErrorTypeUnresolvedConflict ErrorType = "UNRESOLVED_CONFLICT"
	ErrorTypeIntegrity          ErrorType = "INTEGRITY_FAILURE"
	ErrorTypeStorage            ErrorType = "STORAGE_ERROR"
	ErrorTypeNetwork            ErrorType = "NETWORK_ERROR"
	ErrorTypeDatabase           ErrorType = "DATABASE_ERROR"
	ErrorTypeEncryption         ErrorType = "ENCRYPTION_ERROR"
	ErrorTypeConfiguration      ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeRollbackExpired    ErrorType = "ROLLBACK_EXPIRED"
	ErrorTypeTimeout            ErrorType = "TIMEOUT_ERROR"
	ErrorTypeInterruption       ErrorType = "INTERRUPTED"
	ErrorTypeFatal              ErrorType = "FATAL_ERROR"
)

// EngineError represents errors that occur during backup and restore operations
type EngineError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewEngineError creates a new EngineError
func NewEngineError(errorType ErrorType, message string, cause error) *EngineError {
	return &EngineError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors

func NewValidationError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeValidation, message, cause)
}

func NewQuotaError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeQuota, message, cause)
}

// NewNotFoundError is returned both when a record does not exist and when it
// belongs to another tenant, so cross-tenant probes cannot distinguish the two.
func NewNotFoundError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeNotFound, message, cause)
}

func NewSchemaIncompatibleError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeSchemaIncompatible, message, cause)
}

func NewUnresolvedConflictError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeUnresolvedConflict, message, cause)
}

func NewIntegrityError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeIntegrity, message, cause)
}

func NewStorageError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeStorage, message, cause)
}

func NewNetworkError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeNetwork, message, cause)
}

func NewDatabaseError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeDatabase, message, cause)
}

func NewEncryptionError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeEncryption, message, cause)
}

func NewConfigurationError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeConfiguration, message, cause)
}

func NewRollbackExpiredError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeRollbackExpired, message, cause)
}

func NewTimeoutError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeTimeout, message, cause)
}

func NewFatalError(message string, cause error) *EngineError {
	return NewEngineError(ErrorTypeFatal, message, cause)
}

// IsRetryable determines if an error is transient and worth retrying.
// Only network and storage failures qualify; everything else in the taxonomy
// is either a caller error or a data problem that retrying cannot fix.
func IsRetryable(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		switch engineErr.Type {
		case ErrorTypeNetwork, ErrorTypeStorage:
			return true
		default:
			return false
		}
	}
	return false
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		switch engineErr.Type {
		case ErrorTypeValidation, ErrorTypeQuota, ErrorTypeNotFound,
			ErrorTypeSchemaIncompatible, ErrorTypeUnresolvedConflict,
			ErrorTypeIntegrity, ErrorTypeConfiguration,
			ErrorTypeRollbackExpired, ErrorTypeTimeout, ErrorTypeFatal:
			return true
		default:
			return false
		}
	}
	return false
}

// IsType reports whether err is an EngineError of the given type
func IsType(err error, errorType ErrorType) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type == errorType
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type
	}
	return ErrorTypeFatal
}

// Classify analyzes a low-level error and maps it onto the engine taxonomy.
// Errors that are already EngineErrors pass through unchanged.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	if classified := classifyMySQLError(err); classified != nil {
		return classified
	}
	// Context errors must be checked before network errors: the deadline
	// sentinel also satisfies net.Error and would be misread as a transient
	// network timeout.
	if classified := classifyContextError(err); classified != nil {
		return classified
	}
	if classified := classifyNetworkError(err); classified != nil {
		return classified
	}
	if classified := classifyFileSystemError(err); classified != nil {
		return classified
	}

	return NewFatalError("an unexpected error occurred", err)
}

func classifyMySQLError(err error) *EngineError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewConfigurationError(
				"database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewConfigurationError("database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1146: // Table doesn't exist
			return NewSchemaIncompatibleError("table does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1054: // Unknown column
			return NewSchemaIncompatibleError("column does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1062: // Duplicate entry
			return NewDatabaseError("duplicate entry - record already exists", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003: // Can't connect to MySQL server
			return NewNetworkError(
				"cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006: // MySQL server has gone away
			return NewNetworkError("MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewDatabaseError(
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError("no rows found", err)
	}
	if errors.Is(err, sql.ErrTxDone) {
		return NewDatabaseError("transaction has already been committed or rolled back", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewNetworkError("database connection is closed", err)
	}

	return nil
}

func classifyNetworkError(err error) *EngineError {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewNetworkError("network operation timed out", err)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewNetworkError("failed to establish network connection", err)
		case "read", "write":
			return NewNetworkError("network I/O error", err)
		}
	}

	return nil
}

func classifyContextError(err error) *EngineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewEngineError(ErrorTypeInterruption, "operation was canceled", err)
	}

	return nil
}

func classifyFileSystemError(err error) *EngineError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewStorageError(
				fmt.Sprintf("file or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewStorageError(
				fmt.Sprintf("permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewStorageError("no space left on device", err)
		}
	}

	return nil
}
