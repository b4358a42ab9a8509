package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Setenv("STREAMER_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamer.yaml")
	yml := `
streaming:
  load_radius: 2
  unload_radius: 5
  spawn_anchor:
    x: 1
    y: 0
    z: -1
    radius: 2
storage:
  backend: badger
  path: /tmp/world
server:
  status_port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("STREAMER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Streaming.LoadRadius)
	assert.Equal(t, 5, cfg.Streaming.UnloadRadius)
	assert.Equal(t, 4, cfg.Streaming.MeshWorkers, "Незаданные поля берутся из значений по умолчанию")
	require.NotNil(t, cfg.Streaming.SpawnAnchor)
	assert.Equal(t, AnchorConfig{X: 1, Z: -1, Radius: 2}, *cfg.Streaming.SpawnAnchor)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 9090, cfg.Server.GetStatusPort())
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("streaming:\n  load_radius: 8\n  unload_radius: 4\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Streaming.MeshWorkers = 0
	cfg.Storage.Backend = "tape"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mesh_workers")
	assert.Contains(t, err.Error(), "tape")
}

func TestStatusPortEnvFallback(t *testing.T) {
	t.Setenv("STREAMER_STATUS_PORT", "7070")
	var s ServerConfig
	assert.Equal(t, 7070, s.GetStatusPort())

	t.Setenv("STREAMER_STATUS_PORT", "garbage")
	assert.Equal(t, 8088, s.GetStatusPort())
}
