package storage

import "github.com/forgerelay/relay/pkg/types"

func sessionRowToType(r SessionRow) *types.Session {
	s := &types.Session{
		ID:             r.ID,
		Mode:           types.SessionMode(r.Mode),
		Status:         types.SessionStatus(r.Status),
		RepoID:         r.RepoID,
		Branch:         r.Branch,
		ModelProvider:  r.ModelProvider,
		ModelID:        r.ModelID,
		EnvironmentID:  r.EnvironmentID,
		Name:           r.Name,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if r.ProviderType != nil && r.ProviderSandboxID != nil {
		digest := ""
		if r.ImageDigest != nil {
			digest = *r.ImageDigest
		}
		s.Binding = &types.SessionBinding{
			ProviderType:      *r.ProviderType,
			ProviderSandboxID: *r.ProviderSandboxID,
			ImageDigest:       digest,
		}
	}
	return s
}

func sessionTypeToRow(s *types.Session) SessionRow {
	row := SessionRow{
		ID:             s.ID,
		Mode:           string(s.Mode),
		Status:         string(s.Status),
		RepoID:         s.RepoID,
		Branch:         s.Branch,
		ModelProvider:  s.ModelProvider,
		ModelID:        s.ModelID,
		EnvironmentID:  s.EnvironmentID,
		Name:           s.Name,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
	if s.Binding != nil {
		providerType := s.Binding.ProviderType
		providerSandboxID := s.Binding.ProviderSandboxID
		imageDigest := s.Binding.ImageDigest
		row.ProviderType = &providerType
		row.ProviderSandboxID = &providerSandboxID
		row.ImageDigest = &imageDigest
	}
	return row
}

func journalRowToType(r JournalEntryRow) types.JournalEntry {
	return types.JournalEntry{
		SessionID: r.SessionID,
		Seq:       r.Seq,
		Type:      r.Type,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
	}
}

func secretRowToMetadata(r SecretRow) types.SecretMetadata {
	return types.SecretMetadata{
		ID:         r.ID,
		Name:       r.Name,
		EnvVarName: r.EnvVarName,
		Kind:       types.SecretKind(r.Kind),
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func environmentRowToType(r EnvironmentRow) *types.Environment {
	env := &types.Environment{
		ID:          r.ID,
		Name:        r.Name,
		SandboxType: r.SandboxType,
		Image:       r.Image,
		IsDefault:   r.IsDefault,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.CPU != nil {
		env.Resources.CPU = *r.CPU
	}
	if r.MemoryMB != nil {
		env.Resources.MemoryMB = *r.MemoryMB
	}
	if r.DiskGB != nil {
		env.Resources.DiskGB = *r.DiskGB
	}
	return env
}

func environmentTypeToRow(e *types.Environment) EnvironmentRow {
	row := EnvironmentRow{
		ID:          e.ID,
		Name:        e.Name,
		SandboxType: e.SandboxType,
		Image:       e.Image,
		IsDefault:   e.IsDefault,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.Resources.CPU != "" {
		cpu := e.Resources.CPU
		row.CPU = &cpu
	}
	if e.Resources.MemoryMB != 0 {
		mem := e.Resources.MemoryMB
		row.MemoryMB = &mem
	}
	if e.Resources.DiskGB != 0 {
		disk := e.Resources.DiskGB
		row.DiskGB = &disk
	}
	return row
}
