package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWorkspace_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWorkspace(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Graph.IncludeDev)
	assert.Equal(t, 5*time.Second, cfg.Verifier.PollInterval)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := LoadWorkspace(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, `
workers: 4
cache:
  in_memory: true
log:
  level: debug
  json: true
graph:
  include_dev: false
plugins:
  builtin: [storage]
  escalate_conflicts: true
  declarative:
    - tag: "acme::getter"
      when: 'kind == "struct"'
      generate: ["get_{name}"]
      claims: false
      attribute: getter
builtin_crates: [core]
verifier:
  network: sepolia
  max_retries: 3
  poll_interval: 250ms
`)
	cfg, err := LoadWorkspace(dir, "")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Cache.InMemory)
	assert.Equal(t, filepath.Join(dir, ".voyager", "cache"), cfg.CacheDir(dir))
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Graph.IncludeDev)
	assert.Equal(t, []string{"storage"}, cfg.Plugins.Builtin)
	assert.Equal(t, []string{"core"}, cfg.BuiltinCrates)
	assert.Equal(t, "sepolia", cfg.Verifier.Network)
	assert.Equal(t, 250*time.Millisecond, cfg.Verifier.PollInterval)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"starknet::storage", "acme::getter"}, reg.Tags())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown field": "wokers: 2\n",
		"bad level":     "log:\n  level: loud\n",
		"bad network":   "verifier:\n  network: moon\n",
		"bad builtin":   "plugins:\n  builtin: [magic]\n",
		"negative":      "workers: -1\n",
		"bad tag":       "plugins:\n  declarative:\n    - tag: \"has space\"\n      when: \"true\"\n",
		"missing when":  "plugins:\n  declarative:\n    - tag: x\n",
		"duplicate tag": "plugins:\n  declarative:\n    - {tag: x, when: \"true\"}\n    - {tag: x, when: \"true\"}\n",
		"not yaml":      "workers: [\n",
		"zero poll":     "verifier:\n  poll_interval: 0s\n",
		"empty builtin": "builtin_crates: [\"\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := LoadWorkspace(dir, write(t, dir, body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), err.Error())
		})
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "")
	cfg, err := LoadWorkspace(dir, "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestRegistry_BadPredicate(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Declarative = []DeclarativePlugin{{Tag: "x", When: "kind +"}}
	_, err := cfg.Registry()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
