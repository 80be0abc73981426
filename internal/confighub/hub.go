// Package confighub holds the admin-managed conversation configuration
// (supervisor profile + agent roster) and keeps it in sync with its files.
//
// Sources, highest wins:
//
//	Layer 2: Admin saves (SaveProfile / SaveRoster) and file edits seen by Watch
//	Layer 1: Files on disk at startup (missing files → defaults)
package confighub

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/logging"
	"github.com/dayuer/askrelay/internal/roster"
)

// Snapshot is an immutable copy of the admin configuration.
type Snapshot struct {
	Profile roster.Profile
	Roster  roster.Roster
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Profile: s.Profile, Roster: s.Roster.Clone()}
}

// ConfigHub owns the current snapshot.
type ConfigHub struct {
	mu          sync.RWMutex
	profilePath string
	rosterPath  string
	current     Snapshot
	onChange    []func(Snapshot)
	debounce    time.Duration
	log         *zap.Logger
}

// Option configures a ConfigHub.
type Option func(*ConfigHub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *ConfigHub) { h.log = logging.OrNop(l) }
}

// WithDebounce sets how long Watch waits for a burst of file events to
// settle before reloading (default 200ms).
func WithDebounce(d time.Duration) Option {
	return func(h *ConfigHub) { h.debounce = d }
}

// New creates a ConfigHub for the two files. Call Reload to read them.
func New(profilePath, rosterPath string, opts ...Option) *ConfigHub {
	h := &ConfigHub{
		profilePath: profilePath,
		rosterPath:  rosterPath,
		current:     Snapshot{Profile: roster.DefaultProfile(), Roster: roster.Roster{Assistants: []roster.AgentSpec{}}},
		debounce:    200 * time.Millisecond,
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Current returns a deep copy of the active snapshot (thread-safe).
func (h *ConfigHub) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Clone()
}

// OnChange registers a callback invoked when the snapshot changes.
// Callbacks are called synchronously in the order registered;
// long-running work should be spawned in a goroutine.
func (h *ConfigHub) OnChange(fn func(Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Reload reads both files. On error the current snapshot is kept.
func (h *ConfigHub) Reload() error {
	p, err := roster.LoadProfile(h.profilePath)
	if err != nil {
		h.log.Warn("profile reload failed, keeping current", zap.Error(err))
		return fmt.Errorf("load profile: %w", err)
	}
	r, err := roster.LoadRoster(h.rosterPath)
	if err != nil {
		h.log.Warn("roster reload failed, keeping current", zap.Error(err))
		return fmt.Errorf("load roster: %w", err)
	}
	if r.Assistants == nil {
		r.Assistants = []roster.AgentSpec{}
	}
	h.Apply(Snapshot{Profile: p, Roster: r})
	return nil
}

// SaveProfile persists p and reloads.
func (h *ConfigHub) SaveProfile(p roster.Profile) error {
	if err := roster.SaveProfile(h.profilePath, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return h.Reload()
}

// SaveRoster validates and persists r, then reloads.
func (h *ConfigHub) SaveRoster(r roster.Roster) error {
	if r.Assistants == nil {
		r.Assistants = []roster.AgentSpec{}
	}
	if err := roster.SaveRoster(h.rosterPath, r); err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	return h.Reload()
}

// Apply installs a new snapshot and fires all onChange callbacks.
func (h *ConfigHub) Apply(s Snapshot) {
	h.mu.Lock()
	old := h.current
	h.current = s.Clone()
	callbacks := make([]func(Snapshot), len(h.onChange))
	copy(callbacks, h.onChange)
	h.mu.Unlock()

	h.log.Info("admin config updated",
		zap.String("supervisor", s.Profile.Name),
		zap.Int("assistants", len(s.Roster.Assistants)))
	if len(old.Roster.Assistants) != len(s.Roster.Assistants) {
		h.log.Debug("roster size changed",
			zap.Int("from", len(old.Roster.Assistants)),
			zap.Int("to", len(s.Roster.Assistants)))
	}

	for _, fn := range callbacks {
		fn(s.Clone())
	}
}

// Watch reloads whenever either file is written, created or replaced. It
// watches the parent directories so atomic renames are seen. Blocks until
// ctx is done.
func (h *ConfigHub) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	targets := map[string]bool{
		filepath.Clean(h.profilePath): true,
		filepath.Clean(h.rosterPath):  true,
	}
	dirs := map[string]bool{}
	for p := range targets {
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	h.log.Info("watching admin config", zap.String("profile", h.profilePath), zap.String("roster", h.rosterPath))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := h.Reload(); err != nil {
				h.log.Warn("reload after file change failed", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				_ = h.Reload()
				continue
			}
			h.log.Warn("watcher error", zap.Error(err))
		}
	}
}
