// Package container is the Docker-backed sandbox provider: each sandbox is
// a container whose entrypoint runs the agent, communicating over its
// attached stdio as newline-delimited JSON.
package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/internal/sandbox/hostmount"
	"github.com/forgerelay/relay/pkg/types"
)

const (
	workspaceTarget  = "/workspace"
	agentDataTarget  = "/var/lib/relay-agent"
	credentialTarget = "/var/run/relay-credentials"
)

const labelSession = "relay.session"
const labelManaged = "relay.managed"

// Provider is the Docker sandbox provider.
type Provider struct {
	cli         *dockerclient.Client
	image       string
	networkName string
	baseDir     string

	mu        sync.Mutex
	sandboxes map[string]*handle
}

// Config configures Provider at construction time.
type Config struct {
	Image       string
	NetworkName string
	DockerHost  string

	// BaseDir is the host directory under which each session gets a
	// workspace/agent/git mount tree (typically config.Paths.SessionsDir()).
	BaseDir string
}

// New constructs a Provider, auto-detecting the Docker host the way the
// pack's docker client helper does (env override, then default socket).
func New(cfg Config) (*Provider, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = []dockerclient.Opt{dockerclient.WithHost(cfg.DockerHost), dockerclient.WithAPIVersionNegotiation()}
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("constructing docker client: %w", err)
	}
	return &Provider{
		cli:         cli,
		image:       cfg.Image,
		networkName: cfg.NetworkName,
		baseDir:     cfg.BaseDir,
		sandboxes:   make(map[string]*handle),
	}, nil
}

func (p *Provider) Type() string { return "container" }

func (p *Provider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.cli.Ping(ctx)
	return err == nil
}

func (p *Provider) Capabilities() types.Capabilities {
	return types.Capabilities{LosslessPause: true, PersistentDisk: true}
}

func (p *Provider) CreateSandbox(opts types.CreateSandboxOptions) (sandbox.Handle, error) {
	ctx := context.Background()
	image := p.image
	if image == "" {
		image = "ghcr.io/forgerelay/agent-runtime:latest"
	}

	env := make([]string, 0, len(opts.Env)+len(opts.Secrets))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range opts.Secrets {
		env = append(env, k+"="+v)
	}
	if opts.RepoURL != "" {
		env = append(env, "RELAY_REPO_URL="+opts.RepoURL)
	}
	if opts.RepoBranch != "" {
		env = append(env, "RELAY_REPO_BRANCH="+opts.RepoBranch)
	}
	env = append(env, "RELAY_CREDENTIALS_DIR="+credentialTarget)

	baseDir := p.baseDir
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "relay-sessions")
	}
	_, _, credentialDir, err := hostmount.EnsureDirs(baseDir, opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("preparing host mount tree: %w", err)
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Env:          env,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels:       map[string]string{labelManaged: "true", labelSession: opts.SessionID},
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(p.networkName),
		Mounts: []mount.Mount{
			hostmount.WorkspaceMount(filepath.Join(baseDir, opts.SessionID, "workspace"), workspaceTarget),
			hostmount.CredentialMount(credentialDir, credentialTarget),
		},
	}, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	h := &handle{
		providerID:    resp.ID,
		cli:           p.cli,
		sessionID:     opts.SessionID,
		status:        types.SandboxRunning,
		createdAt:     time.Now().UTC().Format(time.RFC3339),
		credentialDir: credentialDir,
	}
	p.mu.Lock()
	p.sandboxes[resp.ID] = h
	p.mu.Unlock()
	return h, nil
}

func (p *Provider) GetSandbox(providerID string) (sandbox.Handle, error) {
	p.mu.Lock()
	h, ok := p.sandboxes[providerID]
	p.mu.Unlock()
	if ok {
		return h, nil
	}

	info, err := p.cli.ContainerInspect(context.Background(), providerID)
	if err != nil {
		return nil, relayerr.ErrSandboxNotFound
	}
	sessionID := info.Config.Labels[labelSession]
	var credentialDir string
	if baseDir := p.baseDir; baseDir != "" && sessionID != "" {
		_, _, credentialDir, _ = hostmount.EnsureDirs(baseDir, sessionID)
	}
	h = &handle{
		providerID:    providerID,
		cli:           p.cli,
		sessionID:     sessionID,
		status:        statusFromState(info.State),
		credentialDir: credentialDir,
	}
	p.mu.Lock()
	p.sandboxes[providerID] = h
	p.mu.Unlock()
	return h, nil
}

func (p *Provider) ListSandboxes() ([]types.SandboxInfo, error) {
	args := filters.NewArgs(filters.Arg("label", labelManaged+"=true"))
	list, err := p.cli.ContainerList(context.Background(), container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, err
	}
	out := make([]types.SandboxInfo, 0, len(list))
	for _, c := range list {
		out = append(out, types.SandboxInfo{
			ProviderID: c.ID,
			SessionID:  c.Labels[labelSession],
			Status:     statusFromDockerState(c.State),
			CreatedAt:  time.Unix(c.Created, 0).UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (p *Provider) Cleanup() (types.CleanupResult, error) {
	ctx := context.Background()
	args := filters.NewArgs(filters.Arg("label", labelManaged+"=true"), filters.Arg("status", "exited"))
	list, err := p.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return types.CleanupResult{}, err
	}
	result := types.CleanupResult{}
	for _, c := range list {
		if err := p.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			continue
		}
		result.Removed++
		result.Artifacts = append(result.Artifacts, c.ID)
		p.mu.Lock()
		delete(p.sandboxes, c.ID)
		p.mu.Unlock()
	}
	return result, nil
}

func statusFromState(s *dockertypes.ContainerState) types.SandboxStatus {
	if s == nil {
		return types.SandboxError
	}
	return statusFromDockerState(s.Status)
}

func statusFromDockerState(s string) types.SandboxStatus {
	switch s {
	case "running":
		return types.SandboxRunning
	case "paused":
		return types.SandboxPaused
	case "exited", "dead":
		return types.SandboxStopped
	case "restarting", "created":
		return types.SandboxCreating
	default:
		return types.SandboxError
	}
}

type handle struct {
	providerID    string
	cli           *dockerclient.Client
	sessionID     string
	createdAt     string
	credentialDir string

	mu     sync.Mutex
	status types.SandboxStatus
	subs   []func(types.SandboxStatus)
	ch     *attachedChannel
}

func (h *handle) ProviderID() string { return h.providerID }

func (h *handle) Status() types.SandboxStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *handle) setStatus(s types.SandboxStatus) {
	h.mu.Lock()
	h.status = s
	subs := append([]func(types.SandboxStatus){}, h.subs...)
	h.mu.Unlock()
	for _, sub := range subs {
		sub(s)
	}
}

func (h *handle) OnStatusChange(handler func(types.SandboxStatus)) func() {
	h.mu.Lock()
	h.subs = append(h.subs, handler)
	idx := len(h.subs) - 1
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if idx < len(h.subs) {
			h.subs[idx] = nil
		}
		h.mu.Unlock()
	}
}

// Resume un-pauses a paused container. Docker has no separate "resume with
// fresh credentials" primitive, so secrets are re-materialized by writing
// them to the session's credential mount before unpausing; repoAuthToken
// follows the same path via the git credential helper file the workspace
// mount exposes.
func (h *handle) Resume(secrets map[string]string, repoAuthToken string) error {
	if h.credentialDir != "" {
		if err := hostmount.WriteCredentials(h.credentialDir, secrets, repoAuthToken); err != nil {
			return fmt.Errorf("materializing resume credentials: %w", err)
		}
	}
	ctx := context.Background()
	if err := h.cli.ContainerUnpause(ctx, h.providerID); err != nil {
		return fmt.Errorf("unpausing container: %w", err)
	}
	h.setStatus(types.SandboxRunning)
	return nil
}

func (h *handle) Pause() error {
	if err := h.cli.ContainerPause(context.Background(), h.providerID); err != nil {
		return fmt.Errorf("pausing container: %w", err)
	}
	if h.credentialDir != "" {
		if err := hostmount.RemoveCredentials(h.credentialDir); err != nil {
			return fmt.Errorf("removing resume credentials: %w", err)
		}
	}
	h.setStatus(types.SandboxPaused)
	return nil
}

func (h *handle) Terminate() error {
	h.mu.Lock()
	ch := h.ch
	h.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	if err := h.cli.ContainerRemove(context.Background(), h.providerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	h.setStatus(types.SandboxStopped)
	return nil
}

// Attach hijacks the container's stdio. Re-attaching closes the previous
// channel, enforcing the single-writer invariant the supervisor depends on.
func (h *handle) Attach() (sandbox.Channel, error) {
	ctx := context.Background()
	resp, err := h.cli.ContainerAttach(ctx, h.providerID, dockertypes.ContainerAttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching to container: %w", err)
	}

	h.mu.Lock()
	prior := h.ch
	h.mu.Unlock()
	if prior != nil {
		prior.closeWithReason("reattached")
	}

	ac := newAttachedChannel(resp)
	h.mu.Lock()
	h.ch = ac
	h.mu.Unlock()
	return ac, nil
}

// attachedChannel demultiplexes the hijacked stream's stdout/stderr
// framing via stdcopy and exposes it as line-delimited JSON.
type attachedChannel struct {
	resp dockertypes.HijackedResponse

	mu        sync.Mutex
	onMessage func(line []byte)
	onClose   func(reason string)
	closed    bool
	closeOnce sync.Once
}

func newAttachedChannel(resp dockertypes.HijackedResponse) *attachedChannel {
	ac := &attachedChannel{resp: resp}
	pr, pw := io.Pipe()
	go func() {
		_, _ = stdcopy.StdCopy(pw, io.Discard, resp.Reader)
		pw.Close()
	}()
	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			ac.mu.Lock()
			handler := ac.onMessage
			ac.mu.Unlock()
			if handler != nil {
				line := append([]byte(nil), scanner.Bytes()...)
				handler(line)
			}
		}
		ac.closeWithReason("stream_closed")
	}()
	return ac
}

func (ac *attachedChannel) Send(line []byte) error {
	ac.mu.Lock()
	closed := ac.closed
	ac.mu.Unlock()
	if closed {
		return nil
	}
	if _, err := ac.resp.Conn.Write(append(line, '\n')); err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "writing to container stdin", err)
	}
	return nil
}

func (ac *attachedChannel) OnMessage(handler func(line []byte)) {
	ac.mu.Lock()
	ac.onMessage = handler
	ac.mu.Unlock()
}

func (ac *attachedChannel) OnClose(handler func(reason string)) {
	ac.mu.Lock()
	ac.onClose = handler
	ac.mu.Unlock()
}

func (ac *attachedChannel) Close() error {
	ac.closeWithReason("closed")
	return nil
}

func (ac *attachedChannel) closeWithReason(reason string) {
	ac.closeOnce.Do(func() {
		ac.mu.Lock()
		ac.closed = true
		handler := ac.onClose
		ac.mu.Unlock()
		ac.resp.Close()
		if handler != nil {
			handler(reason)
		}
	})
}
