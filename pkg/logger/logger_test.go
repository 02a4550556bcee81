package logger

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	l := New(buf)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestLoggerSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Info("host finished", map[string]any{"host": "ny-1", "files": 3, "attempt": 1})

	assert.Equal(t, "time=2024-05-01T12:00:00Z level=info msg=\"host finished\" attempt=1 files=3 host=ny-1\n", buf.String())
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	l.SetLevel(LevelWarn)

	l.Debug("noisy", nil)
	l.Info("still noisy", nil)
	assert.Empty(t, buf.String())

	l.Warn("retrying", nil)
	assert.Contains(t, buf.String(), "level=warn")
}

func TestLoggerErrorDoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	fields := map[string]any{"host": "chi-2"}

	l.Error("connect failed", errors.New("refused"), fields)

	assert.Contains(t, buf.String(), "error=refused")
	assert.NotContains(t, fields, "error")
}

func TestLoggerFatalExits(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatal("config missing", nil)

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "level=fatal")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
