package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "INFO": LevelInfo, "": LevelInfo, "warning": LevelWarn, "Error": LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_FiltersByLevelAndAddsService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Service: "voyager", Writer: &buf, JSON: true})
	l.Slog().Info("hidden")
	l.Slog().Warn("shown", "crate", "token")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"voyager"`)
	assert.Contains(t, out, `"crate":"token"`)
	assert.NoError(t, l.Close())
}

func TestNew_WritesLogFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Dir: dir, Service: "svc", Writer: &buf})
	l.Slog().Debug("to both")
	path := l.Path()
	require.NoError(t, l.Close())

	require.True(t, strings.HasPrefix(path, dir))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, buf.String(), "to both")
}

func TestNew_QuietDiscards(t *testing.T) {
	l := New(Config{Quiet: true})
	l.Slog().Error("nowhere")
	assert.Equal(t, "", l.Path())
}
