package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/forgerelay/relay/internal/logging"
	"github.com/forgerelay/relay/pkg/types"
)

// Watcher reloads configuration whenever the global or project relay.yaml
// changes on disk and hands the freshly merged config to a callback. It
// does not apply the new settings to any running component itself.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onReload  func(*types.Config)

	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
}

// NewWatcher watches directory's .relay/relay.yaml and the global config
// path, calling onReload with the freshly merged config on every change.
// A missing config file is not an error: it simply has nothing to watch
// until the file is created.
func NewWatcher(directory string, onReload func(*types.Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	paths := GetPaths()
	_ = paths.EnsurePaths()

	candidates := []string{GlobalConfigPath()}
	if directory != "" {
		candidates = append(candidates, projectConfigPath(directory))
	}

	watched := false
	for _, p := range candidates {
		if err := w.Add(p); err == nil {
			watched = true
			continue
		}
		// The file doesn't exist yet; watch its parent directory so a
		// later create event is still observed.
		if err := w.Add(filepath.Dir(p)); err == nil {
			watched = true
		}
	}
	if !watched {
		w.Close()
		return nil, nil
	}

	return &Watcher{
		watcher:   w,
		directory: directory,
		onReload:  onReload,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.directory)
			if err != nil {
				logging.Error().Err(err).Msg("config reload failed")
				continue
			}
			logging.Info().Str("path", ev.Name).Msg("configuration reloaded")
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Stop stops the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	return w.watcher.Close()
}

func projectConfigPath(directory string) string {
	return filepath.Join(directory, ".relay", "relay.yaml")
}
