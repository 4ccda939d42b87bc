package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorTextHandlerColorsByLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := slog.New(h)
	l.Warn("watch out")
	out := buf.String()
	assert.Contains(t, out, "\033[33m")
	assert.Contains(t, out, "watch out")
}

func TestNewWithFileSink(t *testing.T) {
	dir := t.TempDir()
	l, closeFn := New(Config{Level: "debug", Dir: dir, NoColor: true})
	l.Info("hello", "pid", 42)
	require.NoError(t, closeFn())

	b, err := os.ReadFile(filepath.Join(dir, "ffximgr.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello")
	assert.Contains(t, string(b), "42")
}

func TestMultiHandlerFanout(t *testing.T) {
	var a, b bytes.Buffer
	ha := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	hb := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError})
	m := newMultiHandler(ha, hb)

	require.True(t, m.Enabled(context.Background(), slog.LevelInfo))
	l := slog.New(m)
	l.Info("only-a")
	l.Error("both")

	assert.Contains(t, a.String(), "only-a")
	assert.NotContains(t, b.String(), "only-a")
	assert.Contains(t, b.String(), "both")
}
