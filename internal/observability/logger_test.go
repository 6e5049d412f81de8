// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func initWithBuffer(t *testing.T, cfg config.LoggerConfig) *syncBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(cfg, buf)
	return buf
}

func TestInitializeConsoleLogger(t *testing.T) {
	buf := initWithBuffer(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "test-service",
	})

	GetLogger().Info("hello from the console")

	out := buf.String()
	assert.Contains(t, out, "hello from the console")
	assert.Contains(t, out, "test-service.")
	// Colorized level marker.
	assert.Contains(t, out, "\x1b[32mINFO\x1b[0m")
}

func TestInitializeRespectsLevel(t *testing.T) {
	buf := initWithBuffer(t, config.LoggerConfig{
		Level:       "warn",
		Format:      "console",
		ServiceName: "test-service",
	})

	logger := GetLogger()
	logger.Info("should be filtered")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}

func TestInitializeInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := initWithBuffer(t, config.LoggerConfig{
		Level:       "verbose-nonsense",
		Format:      "console",
		ServiceName: "test-service",
	})

	logger := GetLogger()
	logger.Debug("debug hidden")
	logger.Info("info shown")

	out := buf.String()
	assert.NotContains(t, out, "debug hidden")
	assert.Contains(t, out, "info shown")
}

func TestFileCoreWritesJSON(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "webpilot.log")
	initWithBuffer(t, config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "test-service",
		LogFile:     logFile,
		MaxSize:     1,
	})

	GetLogger().Info("structured entry", zap.String("session_id", "abc-123"))
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "structured entry", entry["msg"])
	assert.Equal(t, "abc-123", entry["session_id"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestGetLoggerBeforeInitializeReturnsFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback must be usable without panicking.
	logger.Info("fallback works")
}

func TestInitializeIsIdempotent(t *testing.T) {
	buf := initWithBuffer(t, config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "first",
	})

	// A second initialization must not replace the configured logger.
	Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "second"}, zapcore.AddSync(&syncBuffer{}))

	GetLogger().Info("still the first logger")
	assert.Contains(t, buf.String(), "first.")
}
