package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexuspay/fepgate/internal/connmgr"
	"github.com/nexuspay/fepgate/internal/logger"
)

// SnapshotObserver receives the full channel set after every registry
// update.
type SnapshotObserver func(specs map[string]connmgr.ChannelSpec)

// DeltaObserver receives only what changed: specs that were added or
// modified, and the ids of channels that disappeared.
type DeltaObserver func(changed []connmgr.ChannelSpec, removed []string)

// ChannelRegistry holds the current channel specs and notifies observers
// when they change, either through an explicit Update or because the watched
// config file was rewritten.
type ChannelRegistry struct {
	mu    sync.RWMutex
	specs map[string]connmgr.ChannelSpec

	omu       sync.Mutex
	snapshots []SnapshotObserver
	deltas    []DeltaObserver

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}
}

// NewChannelRegistry seeds a registry with the channel set from the loaded
// configuration.
func NewChannelRegistry(initial map[string]connmgr.ChannelSpec) *ChannelRegistry {
	specs := make(map[string]connmgr.ChannelSpec, len(initial))
	for id, spec := range initial {
		specs[id] = spec
	}
	return &ChannelRegistry{
		specs: specs,
		stop:  make(chan struct{}),
	}
}

// Snapshot returns a copy of the current channel set.
func (r *ChannelRegistry) Snapshot() map[string]connmgr.ChannelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]connmgr.ChannelSpec, len(r.specs))
	for id, spec := range r.specs {
		out[id] = spec
	}
	return out
}

// Get returns one channel's spec.
func (r *ChannelRegistry) Get(channelID string) (connmgr.ChannelSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[channelID]
	return spec, ok
}

// SubscribeSnapshot registers an observer that receives the full channel set
// on every update. Lists are copy-on-write so notification never holds the
// lock.
func (r *ChannelRegistry) SubscribeSnapshot(o SnapshotObserver) {
	r.omu.Lock()
	defer r.omu.Unlock()
	next := make([]SnapshotObserver, len(r.snapshots), len(r.snapshots)+1)
	copy(next, r.snapshots)
	r.snapshots = append(next, o)
}

// SubscribeDelta registers an observer that receives only the changes.
func (r *ChannelRegistry) SubscribeDelta(o DeltaObserver) {
	r.omu.Lock()
	defer r.omu.Unlock()
	next := make([]DeltaObserver, len(r.deltas), len(r.deltas)+1)
	copy(next, r.deltas)
	r.deltas = append(next, o)
}

// Update replaces the channel set and notifies observers. Observers are only
// called when something actually changed.
func (r *ChannelRegistry) Update(specs map[string]connmgr.ChannelSpec) {
	r.mu.Lock()
	var changed []connmgr.ChannelSpec
	var removed []string
	for id, spec := range specs {
		if prev, ok := r.specs[id]; !ok || prev != spec {
			changed = append(changed, spec)
		}
	}
	for id := range r.specs {
		if _, ok := specs[id]; !ok {
			removed = append(removed, id)
		}
	}
	next := make(map[string]connmgr.ChannelSpec, len(specs))
	for id, spec := range specs {
		next[id] = spec
	}
	r.specs = next
	r.mu.Unlock()

	if len(changed) == 0 && len(removed) == 0 {
		return
	}

	logger.Info("Channel registry updated",
		"changed", len(changed),
		"removed", len(removed))

	snapshot := r.Snapshot()
	r.omu.Lock()
	snaps := r.snapshots
	dels := r.deltas
	r.omu.Unlock()

	for _, o := range snaps {
		r.guard(func() { o(snapshot) })
	}
	for _, o := range dels {
		r.guard(func() { o(changed, removed) })
	}
}

func (r *ChannelRegistry) guard(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Channel registry observer panicked", "panic", rec)
		}
	}()
	fn()
}

// Watch re-reads the config file whenever it changes and pushes the new
// channel set through Update. Editors often replace rather than rewrite, so
// the watch is on the parent directory.
func (r *ChannelRegistry) Watch(configPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	r.watcher = watcher

	go r.watchLoop(configPath)
	logger.Info("Watching configuration for channel changes", "path", configPath)
	return nil
}

func (r *ChannelRegistry) watchLoop(configPath string) {
	target := filepath.Clean(configPath)

	// Debounce: editors emit bursts of writes; reload once per burst.
	var pending <-chan time.Time

	for {
		select {
		case <-r.stop:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watcher error", logger.KeyError, err.Error())
		case <-pending:
			pending = nil
			r.reload(configPath)
		}
	}
}

func (r *ChannelRegistry) reload(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		logger.Error("Rejecting config reload",
			"path", configPath,
			logger.KeyError, err.Error())
		return
	}
	r.Update(cfg.Channels)
}

// Close stops the file watcher. The registry itself stays usable.
func (r *ChannelRegistry) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}
