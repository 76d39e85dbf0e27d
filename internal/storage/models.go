package storage

// SessionRow is the gorm model backing the sessions table.
type SessionRow struct {
	ID                string  `gorm:"primaryKey"`
	Mode              string  `gorm:"column:mode"`
	Status            string  `gorm:"column:status"`
	RepoID            *string `gorm:"column:repo_id"`
	Branch            *string `gorm:"column:branch"`
	ProviderType      *string `gorm:"column:provider_type"`
	ProviderSandboxID *string `gorm:"column:provider_sandbox_id"`
	ImageDigest       *string `gorm:"column:image_digest"`
	ModelProvider     *string `gorm:"column:model_provider"`
	ModelID           *string `gorm:"column:model_id"`
	EnvironmentID     *string `gorm:"column:environment_id"`
	Name              string  `gorm:"column:name"`
	CreatedAt         string  `gorm:"column:created_at"`
	LastActivityAt    string  `gorm:"column:last_activity_at"`
}

func (SessionRow) TableName() string { return "sessions" }

// JournalEntryRow is the gorm model backing the journal_entries table.
type JournalEntryRow struct {
	SessionID string `gorm:"column:session_id;primaryKey"`
	Seq       int64  `gorm:"column:seq;primaryKey"`
	Type      string `gorm:"column:type"`
	Payload   []byte `gorm:"column:payload"`
	CreatedAt string `gorm:"column:created_at"`
}

func (JournalEntryRow) TableName() string { return "journal_entries" }

// SecretRow is the gorm model backing the secrets table.
type SecretRow struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"column:name"`
	EnvVarName string `gorm:"column:env_var_name"`
	Kind       string `gorm:"column:kind"`
	Enabled    bool   `gorm:"column:enabled"`
	Ciphertext []byte `gorm:"column:ciphertext"`
	Nonce      []byte `gorm:"column:nonce"`
	KeyVersion string `gorm:"column:key_version"`
	CreatedAt  string `gorm:"column:created_at"`
	UpdatedAt  string `gorm:"column:updated_at"`
}

func (SecretRow) TableName() string { return "secrets" }

// EnvironmentRow is the gorm model backing the environments table.
type EnvironmentRow struct {
	ID          string  `gorm:"primaryKey"`
	Name        string  `gorm:"column:name"`
	SandboxType string  `gorm:"column:sandbox_type"`
	Image       string  `gorm:"column:image"`
	CPU         *string `gorm:"column:cpu"`
	MemoryMB    *int    `gorm:"column:memory_mb"`
	DiskGB      *int    `gorm:"column:disk_gb"`
	IsDefault   bool    `gorm:"column:is_default"`
	CreatedAt   string  `gorm:"column:created_at"`
	UpdatedAt   string  `gorm:"column:updated_at"`
}

func (EnvironmentRow) TableName() string { return "environments" }
