// Package config provides configuration loading and path management for the
// relay server.
//
// # Configuration Loading
//
// Load implements a layered configuration strategy, searching for and
// merging configuration from multiple sources in priority order:
//
//  1. Global config (~/.config/relay/relay.yaml, XDG compatible)
//  2. Project config (<directory>/.relay/relay.yaml)
//  3. Environment variables
//
// Later sources override earlier ones; environment variables always win.
//
// # Environment Variable Overrides
//
//   - RELAY_HOST - Override the listen host
//   - RELAY_PORT - Override the listen port
//   - SANDBOX_PROVIDER - Select the sandbox provider ("mock", "container", "microvm")
//   - RELAY_ENCRYPTION_KEY - Key material for the active encryption keyVersion
//   - RELAY_ENCRYPTION_KEY_VERSION - The active keyVersion tag
//   - RELAY_DB_DRIVER - Relational store driver ("sqlite" or "postgres")
//   - RELAY_DB_DSN - Relational store connection string
//   - DOCKER_HOST - Docker daemon socket, forwarded to the container provider
//
// # Path Management
//
// The package provides XDG Base Directory Specification compliant path
// management through the Paths type:
//   - Data: ~/.local/share/relay (XDG_DATA_HOME)
//   - Config: ~/.config/relay (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/relay (XDG_CACHE_HOME)
//   - State: ~/.local/state/relay (XDG_STATE_HOME), also parent of the
//     per-session host mount tree (see Paths.SessionMountDir)
//
// Each of these may be overridden directly with RELAY_DATA_DIR,
// RELAY_CONFIG_DIR, RELAY_CACHE_DIR, and RELAY_STATE_DIR. On Windows these
// paths are adapted to use APPDATA.
//
// # Usage Example
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	paths := config.GetPaths()
//	if err := paths.EnsurePaths(); err != nil {
//	    log.Fatal(err)
//	}
package config
