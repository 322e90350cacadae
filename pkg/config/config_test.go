package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEET_CONFIG_DIR", dir)

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, c.ASLRDisabled())
	assert.Equal(t, DefaultMaxBacktraceDepth, c.BacktraceDepth())

	_, err = os.Stat(filepath.Join(dir, configFile))
	require.NoError(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEET_CONFIG_DIR", dir)

	off := false
	want := &Config{
		Aliases:           map[string][]string{"continue": {"go"}},
		DisableASLR:       &off,
		MaxBacktraceDepth: 10,
	}
	require.NoError(t, SaveConfig(want))

	got, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, got.ASLRDisabled())
	assert.Equal(t, 10, got.BacktraceDepth())
	assert.Equal(t, []string{"go"}, got.Aliases["continue"])
}

func TestDecodeError(t *testing.T) {
	_, err := decode(strings.NewReader("aliases: [unterminated"))
	assert.Error(t, err)
}

func TestNilConfigDefaults(t *testing.T) {
	var c *Config
	assert.True(t, c.ASLRDisabled())
	assert.Equal(t, DefaultMaxBacktraceDepth, c.BacktraceDepth())
}

func TestHistoryFilePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEET_CONFIG_DIR", dir)
	p, err := HistoryFilePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".deet_history"), p)
}
