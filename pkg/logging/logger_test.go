package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.False(t, cfg.Pretty)
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name           string
		env            map[string]string
		expectedLevel  LogLevel
		expectedPretty bool
	}{
		{
			name:           "unset",
			env:            map[string]string{},
			expectedLevel:  LevelInfo,
			expectedPretty: false,
		},
		{
			name:           "debug pretty",
			env:            map[string]string{"LOG_LEVEL": "debug", "LOG_PRETTY": "true"},
			expectedLevel:  LevelDebug,
			expectedPretty: true,
		},
		{
			name:           "malformed pretty",
			env:            map[string]string{"LOG_PRETTY": "sometimes"},
			expectedLevel:  LevelInfo,
			expectedPretty: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigFromEnv(func(key string) string { return tt.env[key] })

			assert.Equal(t, tt.expectedLevel, cfg.Level)
			assert.Equal(t, tt.expectedPretty, cfg.Pretty)
		})
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		emit  func(zerolog.Logger, string)
	}{
		{name: "info_level", level: LevelInfo, emit: func(l zerolog.Logger, m string) { l.Info().Msg(m) }},
		{name: "debug_level", level: LevelDebug, emit: func(l zerolog.Logger, m string) { l.Debug().Msg(m) }},
		{name: "warn_level", level: LevelWarn, emit: func(l zerolog.Logger, m string) { l.Warn().Msg(m) }},
		{name: "error_level", level: LevelError, emit: func(l zerolog.Logger, m string) { l.Error().Msg(m) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			msg := "test " + string(tt.level) + " message"
			tt.emit(logger, msg)

			assert.Contains(t, buf.String(), msg)
		})
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Msg("pretty message")

	output := buf.String()
	assert.Contains(t, output, "pretty message")
	assert.NotRegexp(t, `^\{`, output, "expected console output, not JSON")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Output: buf,
	})

	logger := NewLogger("batch-fetcher")
	logger.Info().Msg("test message")

	assert.Contains(t, buf.String(), `"component":"batch-fetcher"`)
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Output: buf,
	})

	logger := NewLogger("test")

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
}
