package types

// Config is the relay server's application configuration, assembled from a
// config file plus environment variable overrides.
type Config struct {
	// Host is the address the REST/WebSocket listener binds to.
	Host string `json:"host,omitempty"`
	// Port is the TCP port the REST/WebSocket listener binds to.
	Port int `json:"port,omitempty"`

	// SandboxProvider selects which Provider backs new sandboxes: "mock",
	// "container", or "microvm".
	SandboxProvider string `json:"sandboxProvider,omitempty" yaml:"sandboxProvider,omitempty"`

	// EncryptionKeyVersion is the keyVersion tag stamped on newly sealed
	// secrets. Older versions remain openable as long as their key material
	// is present in EncryptionKeys.
	EncryptionKeyVersion string `json:"encryptionKeyVersion,omitempty" yaml:"encryptionKeyVersion,omitempty"`
	// EncryptionKeys maps keyVersion to base64-encoded key material used to
	// derive the working AEAD key via HKDF.
	EncryptionKeys map[string]string `json:"encryptionKeys,omitempty" yaml:"encryptionKeys,omitempty"`

	// Database holds relational store connection settings.
	Database DatabaseConfig `json:"database,omitempty"`

	// Container holds settings specific to the container sandbox provider.
	Container ContainerConfig `json:"container,omitempty"`
	// MicroVM holds settings specific to the microVM sandbox provider.
	MicroVM MicroVMConfig `json:"microvm,omitempty"`

	// JournalRetentionHours is how many hours journal entries are kept
	// before being pruned by the retention job. Zero disables pruning.
	JournalRetentionHours int `json:"journalRetentionHours,omitempty" yaml:"journalRetentionHours,omitempty"`

	// SandboxIdleTimeoutMinutes turns the sandbox GC job on when nonzero;
	// zero disables GC. The GC pass removes stopped sandboxes and does not
	// measure idle time, so the value sets no idle threshold.
	SandboxIdleTimeoutMinutes int `json:"sandboxIdleTimeoutMinutes,omitempty" yaml:"sandboxIdleTimeoutMinutes,omitempty"`
}

// DatabaseConfig selects and configures the relational store driver.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver,omitempty"`
	// DSN is the driver-specific connection string. For sqlite this is a
	// file path; for postgres a libpq connection string.
	DSN string `json:"dsn,omitempty"`
}

// ContainerConfig configures the Docker-backed sandbox provider.
type ContainerConfig struct {
	// Image is the default container image for new sandboxes.
	Image string `json:"image,omitempty"`
	// NetworkName is the Docker network sandboxes attach to.
	NetworkName string `json:"networkName,omitempty" yaml:"networkName,omitempty"`
	// DockerHost overrides the Docker daemon socket auto-detection.
	DockerHost string `json:"dockerHost,omitempty" yaml:"dockerHost,omitempty"`
}

// MicroVMConfig configures the lima-backed sandbox provider.
type MicroVMConfig struct {
	// InstanceTemplate names the lima YAML template new instances are
	// created from.
	InstanceTemplate string `json:"instanceTemplate,omitempty" yaml:"instanceTemplate,omitempty"`
	// DataDir is where per-instance lima state is stored.
	DataDir string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
}
