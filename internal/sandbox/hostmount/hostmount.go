// Package hostmount builds the per-session host directory tree
// (workspace/agent/git) that the container and microVM providers bind or
// mount into a sandbox, and manages the credential files written into it
// immediately before resume and removed immediately after pause. Grounded
// on Aureuma-si's docker bind-mount helpers (agents/shared/docker/workspace.go):
// a host path is computed, then handed to the provider as a mount.Mount.
package hostmount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/mount"
)

const (
	workspaceSubdir  = "workspace"
	agentSubdir      = "agent"
	credentialSubdir = "git"

	gitCredentialsFile = "git-credentials"
)

// SessionDir returns the host root for one session's mount tree, rooted at
// baseDir (typically config.Paths.SessionsDir()).
func SessionDir(baseDir, sessionID string) string {
	return filepath.Join(baseDir, sessionID)
}

// EnsureDirs creates the workspace/agent/git subdirectories for a session,
// returning their host paths.
func EnsureDirs(baseDir, sessionID string) (workspace, agent, credentials string, err error) {
	root := SessionDir(baseDir, sessionID)
	workspace = filepath.Join(root, workspaceSubdir)
	agent = filepath.Join(root, agentSubdir)
	credentials = filepath.Join(root, credentialSubdir)
	for _, dir := range []string{workspace, agent, credentials} {
		if mkErr := os.MkdirAll(dir, 0700); mkErr != nil {
			return "", "", "", fmt.Errorf("creating %s: %w", dir, mkErr)
		}
	}
	return workspace, agent, credentials, nil
}

// WorkspaceMount returns the bind mount exposing a session's workspace
// directory inside the sandbox.
func WorkspaceMount(hostWorkspaceDir, containerTarget string) mount.Mount {
	return mount.Mount{Type: mount.TypeBind, Source: hostWorkspaceDir, Target: containerTarget}
}

// CredentialMount returns the bind mount exposing a session's credential
// directory inside the sandbox, read-only from the sandbox's perspective;
// the host side is the only writer, via WriteCredentials/RemoveCredentials.
func CredentialMount(hostCredentialDir, containerTarget string) mount.Mount {
	return mount.Mount{Type: mount.TypeBind, Source: hostCredentialDir, Target: containerTarget, ReadOnly: true}
}

// WriteCredentials materializes secrets and a git auth token as files under
// the session's credential directory immediately before a sandbox resumes.
// Plaintext never touches the image; it exists on the host only for the
// lifetime between a resume and the following pause.
func WriteCredentials(credentialDir string, secrets map[string]string, repoAuthToken string) error {
	for key, value := range secrets {
		if err := os.WriteFile(filepath.Join(credentialDir, key), []byte(value), 0600); err != nil {
			return fmt.Errorf("writing credential %q: %w", key, err)
		}
	}
	if repoAuthToken != "" {
		line := fmt.Sprintf("https://x-access-token:%s@github.com\n", repoAuthToken)
		if err := os.WriteFile(filepath.Join(credentialDir, gitCredentialsFile), []byte(line), 0600); err != nil {
			return fmt.Errorf("writing git credentials: %w", err)
		}
	}
	return nil
}

// RemoveCredentials deletes every file a prior WriteCredentials call wrote,
// called immediately after a sandbox pauses.
func RemoveCredentials(credentialDir string) error {
	entries, err := os.ReadDir(credentialDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading credential dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(credentialDir, entry.Name())); err != nil {
			return fmt.Errorf("removing credential file %q: %w", entry.Name(), err)
		}
	}
	return nil
}
