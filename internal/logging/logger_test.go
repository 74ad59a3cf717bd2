package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level    LogLevel
		logDebug bool
	}{
		{LogLevelQuiet, false},
		{LogLevelNormal, false},
		{LogLevelVerbose, true},
		{LogLevelDebug, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(Config{Level: tt.level, Output: &buf})
			require.NoError(t, err)

			logger.Debug("debug message")
			if tt.logDebug {
				assert.Contains(t, buf.String(), "debug message")
			} else {
				assert.NotContains(t, buf.String(), "debug message")
			}
		})
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.Info("structured message")

	assert.Contains(t, buf.String(), `"msg":"structured message"`)
	assert.Contains(t, buf.String(), `"level":"info"`)
}

func TestLogger_WithOrg(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.WithOrg("org-123").Info("tenant scoped")

	assert.Contains(t, buf.String(), `"org_id":"org-123"`)
}

func TestLogger_LogDiscovery(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.LogDiscovery("org-1", 42, 150*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Schema discovery completed")
	assert.Contains(t, buf.String(), `"table_count":42`)

	buf.Reset()
	logger.LogDiscovery("org-1", 0, time.Millisecond, errors.New("catalog unreachable"))
	assert.Contains(t, buf.String(), "Schema discovery failed")
	assert.Contains(t, buf.String(), "catalog unreachable")
}

func TestLogger_LogBackupLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.LogBackupLifecycle("org-1", "bkp-1", "pending", "processing")

	assert.Contains(t, buf.String(), `"from":"pending"`)
	assert.Contains(t, buf.String(), `"to":"processing"`)
}

func TestLogger_SetLevel(t *testing.T) {
	logger := NewDefaultLogger()
	assert.Equal(t, LogLevelNormal, logger.GetLevel())

	logger.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, logger.GetLevel())
}
