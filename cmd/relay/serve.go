package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgerelay/relay/internal/config"
	"github.com/forgerelay/relay/internal/crypto"
	"github.com/forgerelay/relay/internal/environment"
	"github.com/forgerelay/relay/internal/event"
	"github.com/forgerelay/relay/internal/journal"
	"github.com/forgerelay/relay/internal/logging"
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/internal/sandbox/container"
	"github.com/forgerelay/relay/internal/sandbox/mock"
	"github.com/forgerelay/relay/internal/sandboxmgr"
	"github.com/forgerelay/relay/internal/scheduler"
	"github.com/forgerelay/relay/internal/secrets"
	"github.com/forgerelay/relay/internal/server"
	"github.com/forgerelay/relay/internal/session"
	"github.com/forgerelay/relay/internal/storage"
	"github.com/forgerelay/relay/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Project directory to read .relay/relay.yaml from")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting relay server")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = paths.DatabasePath()
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("hostname") {
		cfg.Host = serveHostname
	}

	db, err := storage.Open(storage.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	keyMaterial, err := decodeKeyMaterial(cfg.EncryptionKeys)
	if err != nil {
		return fmt.Errorf("decoding encryption keys: %w", err)
	}
	sealer, err := crypto.NewSealer(keyMaterial)
	if err != nil {
		return fmt.Errorf("constructing secret sealer: %w", err)
	}

	sessionStore := storage.NewSessionStore(db)
	sessions := session.New(sessionStore, session.RealClock)
	j := journal.New(db)
	secretsStore := secrets.New(db, sealer, cfg.EncryptionKeyVersion, session.RealClock)
	envs := environment.New(db, session.RealClock)

	mgr := buildSandboxManager(cfg)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Host
	srvCfg.Port = cfg.Port

	srv := server.New(srvCfg, sessions, mgr, j, secretsStore, envs, session.RealClock)

	srv.Events().SubscribeAll(func(ev event.Event) {
		logging.Info().Str("sessionId", ev.SessionID).Str("event", string(ev.Type)).Msg("session lifecycle event")
	})

	cfgWatcher, err := config.NewWatcher(workDir, func(reloaded *types.Config) {
		logging.Info().Str("sandboxProvider", reloaded.SandboxProvider).Msg("configuration file changed on disk; restart relay to apply")
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config file watcher unavailable")
	} else if cfgWatcher != nil {
		cfgWatcher.Start()
		defer cfgWatcher.Stop()
	}

	sched := scheduler.New(j, mgr, scheduler.Config{
		JournalRetentionHours:     cfg.JournalRetentionHours,
		SandboxIdleTimeoutMinutes: cfg.SandboxIdleTimeoutMinutes,
	})
	if err := sched.Start(); err != nil {
		logging.Warn().Err(err).Msg("failed to start background scheduler")
	} else {
		defer sched.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		logging.Info().Str("addr", addr).Msg("relay server listening")
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down relay server")
	if err := srv.Shutdown(); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	logging.Info().Msg("relay server stopped")
	return nil
}

// buildSandboxManager wires every sandbox provider this build supports: the
// mock provider is always registered so development and CI never need a
// container runtime, the Docker provider is registered whenever the client
// constructs cleanly, and platform-specific providers (currently just Lima
// on macOS) come from platformProviders.
func buildSandboxManager(cfg *types.Config) *sandboxmgr.Manager {
	defaultType := cfg.SandboxProvider
	if defaultType == "" {
		defaultType = "mock"
	}

	providers := []sandbox.Provider{mock.New()}

	dockerProvider, err := container.New(container.Config{
		Image:       cfg.Container.Image,
		NetworkName: cfg.Container.NetworkName,
		DockerHost:  cfg.Container.DockerHost,
		BaseDir:     config.GetPaths().SessionsDir(),
	})
	if err != nil {
		logging.Warn().Err(err).Msg("docker sandbox provider unavailable, continuing without it")
	} else {
		providers = append(providers, dockerProvider)
	}

	providers = append(providers, platformProviders(cfg)...)

	return sandboxmgr.New(defaultType, providers...)
}

func decodeKeyMaterial(keys map[string]string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for version, encoded := range keys {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("key version %q: %w", version, err)
		}
		out[version] = raw
	}
	if len(out) == 0 {
		// Development fallback so `relay serve` runs without prior setup;
		// production deployments must set RELAY_ENCRYPTION_KEY.
		out["v1"] = []byte("insecure-development-key-do-not-use")
	}
	return out, nil
}
