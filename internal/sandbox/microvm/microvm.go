//go:build darwin

// Package microvm is the Lima-backed sandbox provider: each sandbox is a
// small Alpine microVM, one per session, with the agent run inside it over
// an SSH-backed shell whose stdio is treated as the duplex JSON channel.
package microvm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/rs/zerolog"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/pkg/types"
)

const instancePrefix = "relay-"

// Config configures Provider at construction time.
type Config struct {
	// InstanceTemplate names a base image/template directory; empty means
	// the built-in Alpine template below.
	InstanceTemplate string
	DataDir          string
	AgentCommand     []string // argv run inside the VM, e.g. ["/usr/local/bin/relay-agent"]
}

// Provider is the Lima microVM sandbox provider. Only available on darwin,
// matching Lima's own host support.
type Provider struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	sandboxes map[string]*handle
}

func New(cfg Config) *Provider {
	if len(cfg.AgentCommand) == 0 {
		cfg.AgentCommand = []string{"/usr/local/bin/relay-agent"}
	}
	return &Provider{
		cfg:       cfg,
		log:       zerolog.New(os.Stdout).With().Str("component", "microvm-sandbox").Timestamp().Logger(),
		sandboxes: make(map[string]*handle),
	}
}

func (p *Provider) Type() string { return "microvm" }

func (p *Provider) IsAvailable() bool {
	_, err := exec.LookPath("limactl")
	return err == nil
}

func (p *Provider) Capabilities() types.Capabilities {
	// Lima instances can be suspended but Warren's usage only stops/starts
	// them; resuming re-provisions credentials rather than thawing state.
	return types.Capabilities{LosslessPause: false, PersistentDisk: true}
}

func (p *Provider) CreateSandbox(opts types.CreateSandboxOptions) (sandbox.Handle, error) {
	ctx := context.Background()
	name := instanceName(opts.SessionID)

	cfg := limaConfigFor(p.cfg, opts)
	configYAML, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return nil, fmt.Errorf("marshaling lima config: %w", err)
	}
	if _, err := instance.Create(ctx, name, configYAML, false); err != nil {
		return nil, fmt.Errorf("creating lima instance: %w", err)
	}

	inst, err := store.Inspect(name)
	if err != nil {
		return nil, fmt.Errorf("inspecting created instance: %w", err)
	}
	if err := instance.Start(ctx, inst, "", false); err != nil {
		return nil, fmt.Errorf("starting lima instance: %w", err)
	}
	if err := waitForRunning(ctx, name); err != nil {
		return nil, err
	}

	h := &handle{
		name:       name,
		providerID: name,
		sessionID:  opts.SessionID,
		agentCmd:   p.cfg.AgentCommand,
		status:     types.SandboxRunning,
	}
	p.mu.Lock()
	p.sandboxes[name] = h
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
	if _, err := store.Inspect(providerID); err != nil {
		return nil, relayerr.ErrSandboxNotFound
	}
	h = &handle{name: providerID, providerID: providerID, agentCmd: p.cfg.AgentCommand, status: types.SandboxStopped}
	p.mu.Lock()
	p.sandboxes[providerID] = h
	p.mu.Unlock()
	return h, nil
}

// ListSandboxes enumerates instances this process created this run; Lima's
// own instance list is consulted only to refresh each one's live status.
func (p *Provider) ListSandboxes() ([]types.SandboxInfo, error) {
	p.mu.Lock()
	names := make([]string, 0, len(p.sandboxes))
	for n := range p.sandboxes {
		names = append(names, n)
	}
	p.mu.Unlock()

	out := make([]types.SandboxInfo, 0, len(names))
	for _, n := range names {
		inst, err := store.Inspect(n)
		if err != nil {
			continue
		}
		out = append(out, types.SandboxInfo{
			ProviderID: n,
			Status:     statusFromLima(inst.Status),
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (p *Provider) Cleanup() (types.CleanupResult, error) {
	p.mu.Lock()
	names := make([]string, 0, len(p.sandboxes))
	for n := range p.sandboxes {
		names = append(names, n)
	}
	p.mu.Unlock()

	result := types.CleanupResult{}
	for _, n := range names {
		inst, err := store.Inspect(n)
		if err != nil || inst.Status == store.StatusRunning {
			continue
		}
		if err := instance.Delete(context.Background(), inst, false); err != nil {
			continue
		}
		result.Removed++
		result.Artifacts = append(result.Artifacts, n)
		p.mu.Lock()
		delete(p.sandboxes, n)
		p.mu.Unlock()
	}
	return result, nil
}

func instanceName(sessionID string) string {
	if len(sessionID) > 16 {
		sessionID = sessionID[:16]
	}
	return instancePrefix + sessionID
}

func statusFromLima(s store.Status) types.SandboxStatus {
	switch s {
	case store.StatusRunning:
		return types.SandboxRunning
	case store.StatusStopped:
		return types.SandboxStopped
	default:
		return types.SandboxCreating
	}
}

func waitForRunning(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return relayerr.Wrap(relayerr.KindSandboxFailure, "timed out waiting for microvm to become ready", ctx.Err())
		case <-ticker.C:
			inst, err := store.Inspect(name)
			if err == nil && inst.Status == store.StatusRunning {
				return nil
			}
		}
	}
}

func limaConfigFor(cfg Config, opts types.CreateSandboxOptions) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	cpus, memory, disk := 2, "2GiB", "20GiB"
	switch opts.ResourceTier {
	case types.TierMedium:
		cpus, memory, disk = 4, "4GiB", "40GiB"
	case types.TierLarge:
		cpus, memory, disk = 8, "8GiB", "80GiB"
	}

	mounts := []limayaml.Mount{}
	if cfg.DataDir != "" {
		mounts = append(mounts, limayaml.Mount{Location: filepath.Join(cfg.DataDir, opts.SessionID), Writable: ptrBool(true)})
	}

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Images: []limayaml.Image{
			{File: limayaml.File{Location: "https://dl-cdn.alpinelinux.org/alpine/v3.19/releases/cloud/alpine-virt-3.19.0-aarch64.iso", Arch: limayaml.AARCH64}},
			{File: limayaml.File{Location: "https://dl-cdn.alpinelinux.org/alpine/v3.19/releases/cloud/alpine-virt-3.19.0-x86_64.iso", Arch: limayaml.X8664}},
		},
		Mounts:  mounts,
		Message: "relay sandbox microvm",
	}
}

func ptrBool(b bool) *bool { return &b }

type handle struct {
	name       string
	providerID string
	sessionID  string
	agentCmd   []string

	mu              sync.Mutex
	status          types.SandboxStatus
	subs            []func(types.SandboxStatus)
	ch              *shellChannel
	resumeSecrets   map[string]string
	resumeAuthToken string
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

// Resume starts a stopped instance back up. Lima has no VM-level
// pause/unpause, so every resume is really a cold start; fresh secrets are
// passed in as env vars to the relaunched agent process, not re-injected
// into a suspended VM.
func (h *handle) Resume(secrets map[string]string, repoAuthToken string) error {
	ctx := context.Background()
	inst, err := store.Inspect(h.name)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSandboxFailure, "inspecting instance to resume", err)
	}
	if inst.Status != store.StatusRunning {
		if err := instance.Start(ctx, inst, "", false); err != nil {
			return relayerr.Wrap(relayerr.KindSandboxFailure, "starting instance", err)
		}
		if err := waitForRunning(ctx, h.name); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.resumeSecrets = secrets
	h.resumeAuthToken = repoAuthToken
	h.mu.Unlock()
	h.setStatus(types.SandboxRunning)
	return nil
}

func (h *handle) Pause() error {
	ctx := context.Background()
	inst, err := store.Inspect(h.name)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSandboxFailure, "inspecting instance to pause", err)
	}
	if err := instance.StopGracefully(ctx, inst, false); err != nil {
		instance.StopForcibly(inst)
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
	ctx := context.Background()
	inst, err := store.Inspect(h.name)
	if err != nil {
		h.setStatus(types.SandboxStopped)
		return nil
	}
	instance.StopForcibly(inst)
	if err := instance.Delete(ctx, inst, false); err != nil {
		return relayerr.Wrap(relayerr.KindSandboxFailure, "deleting instance", err)
	}
	h.setStatus(types.SandboxStopped)
	return nil
}

// Attach runs the agent command inside the VM via "limactl shell", treating
// the child process's stdin/stdout as the duplex channel. Re-attaching
// kills the previous shell process before starting a new one.
func (h *handle) Attach() (sandbox.Channel, error) {
	h.mu.Lock()
	prior := h.ch
	h.mu.Unlock()
	if prior != nil {
		prior.closeWithReason("reattached")
	}

	argv := append([]string{"shell", h.name}, h.agentCmd...)
	cmd := exec.Command("limactl", argv...)

	h.mu.Lock()
	for k, v := range h.resumeSecrets {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if h.resumeAuthToken != "" {
		cmd.Env = append(cmd.Env, "RELAY_REPO_AUTH_TOKEN="+h.resumeAuthToken)
	}
	h.mu.Unlock()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, relayerr.Wrap(relayerr.KindSandboxFailure, "starting agent shell", err)
	}

	ch := newShellChannel(cmd, stdin, stdout)
	h.mu.Lock()
	h.ch = ch
	h.mu.Unlock()
	return ch, nil
}

type shellChannel struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex
	onMessage func(line []byte)
	onClose   func(reason string)
	closed    bool
	closeOnce sync.Once
}

func newShellChannel(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader) *shellChannel {
	ch := &shellChannel{cmd: cmd, stdin: stdin}
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			ch.mu.Lock()
			handler := ch.onMessage
			ch.mu.Unlock()
			if handler != nil {
				line := append([]byte(nil), scanner.Bytes()...)
				handler(line)
			}
		}
		_ = cmd.Wait()
		ch.closeWithReason("stream_closed")
	}()
	return ch
}

func (ch *shellChannel) Send(line []byte) error {
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return nil
	}
	if _, err := ch.stdin.Write(append(line, '\n')); err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "writing to agent shell stdin", err)
	}
	return nil
}

func (ch *shellChannel) OnMessage(handler func(line []byte)) {
	ch.mu.Lock()
	ch.onMessage = handler
	ch.mu.Unlock()
}

func (ch *shellChannel) OnClose(handler func(reason string)) {
	ch.mu.Lock()
	ch.onClose = handler
	ch.mu.Unlock()
}

func (ch *shellChannel) Close() error {
	ch.closeWithReason("closed")
	return nil
}

func (ch *shellChannel) closeWithReason(reason string) {
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		ch.closed = true
		handler := ch.onClose
		ch.mu.Unlock()
		_ = ch.stdin.Close()
		if ch.cmd.Process != nil {
			_ = ch.cmd.Process.Kill()
		}
		if handler != nil {
			handler(reason)
		}
	})
}
