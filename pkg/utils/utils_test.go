package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := NewLogger(LoggerConfig{Level: "info", OutputPath: path, Format: "json", Name: "portal-workflow"})
	require.NoError(t, err)

	logger.Info("hello")
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"logger":"portal-workflow"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "loud", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(0))
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateEmail("student@example.ac.jp"))
	assert.Error(t, ValidateEmail("student@"))

	assert.NoError(t, ValidateUserID("s2024-001"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("a b"))

	assert.NoError(t, ValidateOneOf("role", "office", "student", "teacher", "office"))
	err := ValidateOneOf("role", "admin", "student", "teacher", "office")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role must be one of student, teacher, office")

	assert.Equal(t, "Sato Taro", SanitizeString("  Sato\x00 Taro\n"))
}
