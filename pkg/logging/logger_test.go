package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestJSONOutputCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Options{Level: "debug", Format: "json"})
	l.WithSession("abc", "host").WithGrid(4, 3, 8).LogDeviceError(context.Background(), "upload", errors.New("boom"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "device operation failed", rec["msg"])
	assert.Equal(t, "abc", rec["session"])
	assert.Equal(t, "host", rec["backend"])
	assert.Equal(t, float64(4), rec["width"])
	assert.Equal(t, "upload", rec["op"])
	assert.Equal(t, "boom", rec["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, Options{Level: "info"})
	l.LogTransition(context.Background(), "ready", "training")
	assert.Empty(t, buf.String(), "transitions are debug records")

	l.LogEpoch(context.Background(), 1, 100, time.Second, 0.5)
	assert.Contains(t, buf.String(), "epoch completed")
	assert.Contains(t, buf.String(), "samples=100")
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "som.log")
	l, err := New(Options{Output: path, Format: "text"})
	require.NoError(t, err)
	l.WithComponent("test").Info("hello")

	_, err = New(Options{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	assert.NotNil(t, OrNoop(nil))
	l := NoopLogger()
	assert.Same(t, l, OrNoop(l))
	l.Error("discarded")
}
