package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/forgerelay/relay/pkg/types"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from multiple sources, in priority order:
//  1. Global config (~/.config/relay/relay.yaml)
//  2. Project config (<directory>/.relay/relay.yaml)
//  3. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Host:                  "127.0.0.1",
		Port:                  8080,
		SandboxProvider:       "mock",
		EncryptionKeyVersion:  "v1",
		EncryptionKeys:        map[string]string{},
		JournalRetentionHours: 24 * 7,
	}

	loadConfigFile(GlobalConfigPath(), config)
	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".relay", "relay.yaml"), config)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single YAML config file, merging it into config.
// A missing file is not an error; it is simply skipped.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fileConfig types.Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig merges source into target, overwriting scalars and combining maps.
func mergeConfig(target, source *types.Config) {
	if source.Host != "" {
		target.Host = source.Host
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.SandboxProvider != "" {
		target.SandboxProvider = source.SandboxProvider
	}
	if source.EncryptionKeyVersion != "" {
		target.EncryptionKeyVersion = source.EncryptionKeyVersion
	}
	if source.EncryptionKeys != nil {
		if target.EncryptionKeys == nil {
			target.EncryptionKeys = make(map[string]string)
		}
		for k, v := range source.EncryptionKeys {
			target.EncryptionKeys[k] = v
		}
	}
	if source.Database.Driver != "" {
		target.Database.Driver = source.Database.Driver
	}
	if source.Database.DSN != "" {
		target.Database.DSN = source.Database.DSN
	}
	if source.Container.Image != "" {
		target.Container.Image = source.Container.Image
	}
	if source.Container.NetworkName != "" {
		target.Container.NetworkName = source.Container.NetworkName
	}
	if source.Container.DockerHost != "" {
		target.Container.DockerHost = source.Container.DockerHost
	}
	if source.MicroVM.InstanceTemplate != "" {
		target.MicroVM.InstanceTemplate = source.MicroVM.InstanceTemplate
	}
	if source.MicroVM.DataDir != "" {
		target.MicroVM.DataDir = source.MicroVM.DataDir
	}
	if source.JournalRetentionHours != 0 {
		target.JournalRetentionHours = source.JournalRetentionHours
	}
	if source.SandboxIdleTimeoutMinutes != 0 {
		target.SandboxIdleTimeoutMinutes = source.SandboxIdleTimeoutMinutes
	}
}

// applyEnvOverrides applies environment variable overrides, which take
// precedence over any config file.
func applyEnvOverrides(config *types.Config) {
	if host := os.Getenv("RELAY_HOST"); host != "" {
		config.Host = host
	}
	if port := os.Getenv("RELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if provider := os.Getenv("SANDBOX_PROVIDER"); provider != "" {
		config.SandboxProvider = provider
	}
	if version := os.Getenv("RELAY_ENCRYPTION_KEY_VERSION"); version != "" {
		config.EncryptionKeyVersion = version
	}
	if key := os.Getenv("RELAY_ENCRYPTION_KEY"); key != "" {
		if config.EncryptionKeys == nil {
			config.EncryptionKeys = make(map[string]string)
		}
		version := config.EncryptionKeyVersion
		if version == "" {
			version = "v1"
		}
		config.EncryptionKeys[version] = key
	}
	if driver := os.Getenv("RELAY_DB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dsn := os.Getenv("RELAY_DB_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		config.Container.DockerHost = dockerHost
	}
}

// Save saves the configuration to a YAML file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
