package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "capsule.toml", `
specversion = "0.1"
secret_store = "configs.envvars"

[[capability]]
name = "kv.filesystem"

[[capability]]
name = "http"
`)

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.1", f.SpecVersion)
	assert.Equal(t, "configs.envvars", f.SecretStore)
	assert.Equal(t, []string{"kv.filesystem", "http"}, f.Names())
	assert.True(t, f.Has("http"))
	assert.False(t, f.Has("events"))
	assert.True(t, filepath.IsAbs(f.Path))
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "capsule.yaml", `
specversion: "0.1"
capability:
  - name: events
  - name: configs.envvars
`)

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.1", f.SpecVersion)
	assert.Empty(t, f.SecretStore)
	assert.Equal(t, []string{"events", "configs.envvars"}, f.Names())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "capsule.toml", `specversion = "0.1"`)
	writeFile(t, dir, EnvFile, "CAPSULE_TEST_FROM_ENV=loaded\nCAPSULE_TEST_PRESET=fromfile\n")

	t.Setenv("CAPSULE_TEST_PRESET", "preset")
	t.Cleanup(func() { os.Unsetenv("CAPSULE_TEST_FROM_ENV") })

	_, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "loaded", os.Getenv("CAPSULE_TEST_FROM_ENV"))
	assert.Equal(t, "preset", os.Getenv("CAPSULE_TEST_PRESET"))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorContains(t, err, "read config")

	path := writeFile(t, dir, "bad.toml", "specversion = ")
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse config")

	_, err = Parse([]byte("x"), Format("json"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
