package vmbatch_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := vmbatch.NewLogger(&buf, zerolog.InfoLevel)

	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected log output to contain 'test message', got: %s", output)
	}

	if !strings.HasSuffix(strings.TrimSpace(output), "lib=vmbatch") {
		t.Errorf("Expected log output to end with 'lib=vmbatch', got: %s", output)
	}
}

func TestLogLevelFromString(t *testing.T) {
	testCases := []struct {
		levelStr string
		expected zerolog.Level
		wantErr  bool
	}{
		{"trace", zerolog.TraceLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"", zerolog.WarnLevel, false},
		{"invalid", zerolog.NoLevel, true},
	}

	for _, tc := range testCases {
		t.Run(tc.levelStr, func(t *testing.T) {
			level, err := vmbatch.LogLevelFromString(tc.levelStr)

			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error for invalid level %q", tc.levelStr)
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}

			if level != tc.expected {
				t.Errorf("Expected level %v, got %v", tc.expected, level)
			}
		})
	}
}

func TestNewTestLogger(t *testing.T) {
	testCases := []struct {
		verbose  int
		expected zerolog.Level
	}{
		{0, zerolog.WarnLevel},
		{1, zerolog.InfoLevel},
		{2, zerolog.DebugLevel},
		{3, zerolog.TraceLevel},
		{4, zerolog.TraceLevel}, // Should cap at trace
	}

	for _, tc := range testCases {
		t.Run("verbose_"+string(rune(tc.verbose+'0')), func(t *testing.T) {
			var buf bytes.Buffer
			logger := vmbatch.NewTestLogger(&buf, tc.verbose)
			if logger.GetLevel() != tc.expected {
				t.Errorf("Expected level %v for verbose %d, got %v", tc.expected, tc.verbose, logger.GetLevel())
			}
		})
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := vmbatch.ComponentLogger(vmbatch.NewLogger(&buf, zerolog.DebugLevel), "executor")

	logger.Debug().
		Str("batch", "start").
		Int("operand_index", 2).
		Dur("duration", 1500*time.Millisecond).
		Bool("stopped", false).
		Err(errors.New("boom")).
		Msg("operand failed")
	logger.Trace().Msg("filtered out")

	output := buf.String()
	for _, want := range []string{"component=executor", "batch=start", "operand_index=2", "error=boom", "operand failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "filtered out") {
		t.Errorf("Trace event should be filtered at debug level, got: %s", output)
	}
}

func TestNewLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	zl := vmbatch.NewLogger(&buf, zerolog.InfoLevel)
	logger := vmbatch.NewLoggerAdapter(&zl)

	logger.Info().Float64("ratio", 0.5).Interface("names", []string{"web"}).Msg("resolved")
	logger.Debug().Msg("below level")

	output := buf.String()
	if !strings.Contains(output, "resolved") || !strings.Contains(output, "ratio=0.5") {
		t.Errorf("Expected adapted event in output, got: %s", output)
	}
	if strings.Contains(output, "below level") {
		t.Errorf("Debug event should be filtered at info level, got: %s", output)
	}

	// A nil logger discards.
	vmbatch.NewLoggerAdapter(nil).Error().Str("k", "v").Msg("dropped")
}
