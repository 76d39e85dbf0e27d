package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgerelay/relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "mock", cfg.SandboxProvider)
	assert.Equal(t, "v1", cfg.EncryptionKeyVersion)
}

func TestLoadGlobalConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	globalConfig := "host: 0.0.0.0\nport: 9090\nsandboxProvider: container\n"
	configPath := filepath.Join(tmpDir, ".config", "relay", "relay.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(globalConfig), 0644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "container", cfg.SandboxProvider)
}

func TestProjectConfigOverridesGlobal(t *testing.T) {
	tmpHome := t.TempDir()
	tmpProject := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpHome)
	defer os.Setenv("HOME", oldHome)

	globalConfig := "port: 9090\nsandboxProvider: container\n"
	globalPath := filepath.Join(tmpHome, ".config", "relay", "relay.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0755))
	require.NoError(t, os.WriteFile(globalPath, []byte(globalConfig), 0644))

	projectConfig := "port: 7070\n"
	projectPath := filepath.Join(tmpProject, ".relay", "relay.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(projectPath), 0755))
	require.NoError(t, os.WriteFile(projectPath, []byte(projectConfig), 0644))

	cfg, err := Load(tmpProject)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "container", cfg.SandboxProvider)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	configPath := filepath.Join(tmpDir, ".config", "relay", "relay.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte("port: 9090\n"), 0644))

	os.Setenv("RELAY_PORT", "6000")
	os.Setenv("SANDBOX_PROVIDER", "microvm")
	os.Setenv("RELAY_ENCRYPTION_KEY", "test-key-material")
	defer os.Unsetenv("RELAY_PORT")
	defer os.Unsetenv("SANDBOX_PROVIDER")
	defer os.Unsetenv("RELAY_ENCRYPTION_KEY")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "microvm", cfg.SandboxProvider)
	assert.Equal(t, "test-key-material", cfg.EncryptionKeys["v1"])
}

func TestMergeConfigFunction(t *testing.T) {
	target := &types.Config{
		Host:            "127.0.0.1",
		SandboxProvider: "mock",
		EncryptionKeys:  map[string]string{"v1": "old"},
	}
	source := &types.Config{
		Port:           9090,
		EncryptionKeys: map[string]string{"v2": "new"},
	}

	mergeConfig(target, source)

	assert.Equal(t, "127.0.0.1", target.Host)
	assert.Equal(t, 9090, target.Port)
	assert.Equal(t, "mock", target.SandboxProvider)
	assert.Equal(t, "old", target.EncryptionKeys["v1"])
	assert.Equal(t, "new", target.EncryptionKeys["v2"])
}

func TestApplyEnvOverridesFunction(t *testing.T) {
	os.Setenv("RELAY_HOST", "0.0.0.0")
	os.Setenv("RELAY_DB_DRIVER", "postgres")
	defer os.Unsetenv("RELAY_HOST")
	defer os.Unsetenv("RELAY_DB_DRIVER")

	config := &types.Config{Host: "127.0.0.1"}
	applyEnvOverrides(config)

	assert.Equal(t, "0.0.0.0", config.Host)
	assert.Equal(t, "postgres", config.Database.Driver)
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &types.Config{
		Host:            "127.0.0.1",
		Port:            8080,
		SandboxProvider: "container",
	}

	path := filepath.Join(tmpDir, "relay.yaml")
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "container")

	loaded := &types.Config{}
	require.NoError(t, loadConfigFile(path, loaded))
	assert.Equal(t, "127.0.0.1", loaded.Host)
	assert.Equal(t, 8080, loaded.Port)
	assert.Equal(t, "container", loaded.SandboxProvider)
}
