package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	t.Run("json output respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

		logger.Info().Msg("hidden")
		logger.Warn().Str("k", "v").Msg("shown")

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 1)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(lines[0], &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "shown", entry["message"])
		assert.Equal(t, "v", entry["k"])
		assert.Contains(t, entry, "time")
	})

	t.Run("add source includes caller", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(LoggingConfig{Level: "info", AddSource: true}, &buf)
		logger.Info().Msg("x")
		assert.Contains(t, buf.String(), `"caller"`)
	})

	t.Run("console format is not json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "console"}, &buf)
		logger.Info().Msg("hello")
		assert.Contains(t, buf.String(), "hello")
		assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
	})
}

func TestNewLogger_FileOutput(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	path := filepath.Join(t.TempDir(), "app.log")
	logger := NewLogger(LoggingConfig{Level: "info", Output: path})
	logger.Info().Msg("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestWithSearchContext(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSearchContext(zerolog.New(&buf), "crispr", []string{"pubmed", "arxiv"})
	logger.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "crispr", entry["query"])
	assert.Equal(t, []any{"pubmed", "arxiv"}, entry["sources"])
}

func TestWithPaperContext(t *testing.T) {
	var buf bytes.Buffer
	logger := WithPaperContext(zerolog.New(&buf), "arxiv:2101.00001")
	logger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"paper_id":"arxiv:2101.00001"`)
}
