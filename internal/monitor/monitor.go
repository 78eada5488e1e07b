// Package monitor is the active half of the trust core: it subscribes
// to filesystem notifications, drives hashing, updates the asset
// registry's trust state, runs the periodic re-verification scheduler,
// and fans change events out to listeners (one of which mirrors them
// into the evidence ledger).
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attestra/attestra/internal/hashing"
	"github.com/attestra/attestra/internal/metrics"
	"github.com/attestra/attestra/internal/registry"
)

// Config bounds the monitor's scheduling and culprit narrowing.
type Config struct {
	Tick         time.Duration // scheduler granularity
	Debounce     time.Duration // fs notification quiet period
	Intervals    Intervals     // sensitivity-tiered re-verification periods
	RecentWindow time.Duration // mtime window for culprit narrowing
	RecentDepth  int           // culprit scan depth bound
	RecentLimit  int           // culprit scan result cap
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		Tick:         time.Minute,
		Debounce:     500 * time.Millisecond,
		Intervals:    DefaultIntervals(),
		RecentWindow: 10 * time.Minute,
		RecentDepth:  4,
		RecentLimit:  10,
	}
}

// Monitor owns the real-time and periodic verification paths. All
// updates to one asset's state are serialized through a per-asset
// lock; different assets process in parallel.
type Monitor struct {
	reg      *registry.Store
	hasher   *hashing.Hasher
	bus      *Bus
	enricher Enricher
	watcher  *Watcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	locks    *keyedMutex
}

// New builds a monitor and registers watch roots for every enabled
// asset. The enricher may be nil.
func New(reg *registry.Store, hasher *hashing.Hasher, bus *Bus, enricher Enricher, m *metrics.Metrics, cfg Config, logger *slog.Logger) (*Monitor, error) {
	if cfg.Tick <= 0 {
		cfg = DefaultConfig()
	}
	w, err := NewWatcher(cfg.Debounce, logger)
	if err != nil {
		return nil, err
	}
	mon := &Monitor{
		reg:      reg,
		hasher:   hasher,
		bus:      bus,
		enricher: enricher,
		watcher:  w,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		locks:    newKeyedMutex(),
	}

	assets, err := reg.List(context.Background(), true)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	for _, a := range assets {
		if err := mon.Track(&a); err != nil {
			logger.Warn("could not watch asset", "path", a.Path, "error", err)
		}
	}
	return mon, nil
}

// Track adds an asset's watch root to the OS watcher. File assets are
// watched through their parent directory so deletions and renames are
// observed.
func (m *Monitor) Track(a *registry.Asset) error {
	return m.watcher.Add(watchRoot(a))
}

// Untrack removes an asset's watch root.
func (m *Monitor) Untrack(a *registry.Asset) error {
	return m.watcher.Remove(watchRoot(a))
}

func watchRoot(a *registry.Asset) string {
	if a.Type == registry.TypeDirectory {
		return a.Path
	}
	return filepath.Dir(a.Path)
}

// Close releases the OS watcher.
func (m *Monitor) Close() error { return m.watcher.Close() }

// Run processes debounced filesystem events and scheduler ticks until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	m.logger.Info("monitor running", "tick", m.cfg.Tick)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.watcher.Events():
			m.handleFSEvent(ctx, ev)
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// handleFSEvent is the real-time path: attribute the changed path to a
// registered asset, re-hash, and run the trust transition.
func (m *Monitor) handleFSEvent(ctx context.Context, ev fsEvent) {
	a, err := m.resolveAsset(ctx, ev.path)
	if err != nil {
		if !errors.Is(err, registry.ErrAssetNotFound) {
			m.logger.Error("resolving event path", "path", ev.path, "error", err)
		}
		return
	}
	if !a.Enabled {
		return
	}

	unlock := m.locks.lock(a.ID)
	defer unlock()

	// Re-read under the lock: a concurrent rescan may have moved state.
	a, err = m.reg.Get(ctx, a.ID)
	if err != nil {
		m.logger.Error("reloading asset", "id", a.ID, "error", err)
		return
	}

	m.metrics.EventsProcessed.WithLabelValues(string(ev.kind)).Inc()

	// Deletion of the watched path itself is always a concern, even
	// without a verified baseline. The cached hash is cleared.
	if ev.kind == registry.ChangeDeleted && ev.path == a.Path {
		m.flagChanged(ctx, a, ev.path, registry.ChangeDeleted, "")
		return
	}

	newHash, err := m.hasher.HashPath(ctx, a.Path, a.Type == registry.TypeDirectory)
	if err != nil {
		m.reportHashFailure(a, err)
		return
	}
	if newHash == a.ContentHash {
		return // debounce echo, nothing actually changed
	}

	// Without an accepted baseline there is nothing to compare against:
	// the hash is cached but the asset never auto-flags as changed.
	if a.VerifiedHash == "" {
		if err := m.reg.SetContentHash(ctx, a.ID, newHash); err != nil {
			m.logger.Error("caching content hash", "id", a.ID, "error", err)
		}
		return
	}
	if newHash == a.VerifiedHash {
		if err := m.reg.SetContentHash(ctx, a.ID, newHash); err != nil {
			m.logger.Error("caching content hash", "id", a.ID, "error", err)
		}
		return
	}

	m.flagChanged(ctx, a, ev.path, ev.kind, newHash)
}

// flagChanged runs the shared change pipeline: state transition, score
// penalty, change-log append, best-effort enrichment, and listener
// fan-out.
func (m *Monitor) flagChanged(ctx context.Context, a *registry.Asset, path string, kind registry.ChangeKind, newHash string) {
	before := a.TrustState
	prevHash := a.ContentHash

	updated, err := m.reg.MarkChanged(ctx, a.ID, newHash)
	if err != nil {
		m.logger.Error("marking asset changed", "id", a.ID, "error", err)
		return
	}

	penalty := scorePenalty(kind, a.Sensitivity)
	if err := m.reg.UpdateTrustScore(ctx, a.ID, a.TrustScore-penalty); err != nil {
		m.logger.Error("updating trust score", "id", a.ID, "error", err)
	}

	ev := registry.ChangeEvent{
		ID:          uuid.NewString(),
		AssetID:     a.ID,
		Path:        path,
		Kind:        kind,
		PrevHash:    prevHash,
		NewHash:     newHash,
		StateBefore: before,
		StateAfter:  updated.TrustState,
		Timestamp:   time.Now().UTC(),
	}

	meta, err := m.enrich(ctx, path, kind)
	if err != nil {
		m.logger.Debug("enrichment skipped", "path", path, "error", err)
	} else if len(meta) > 0 {
		ev.Metadata = meta
	}

	if err := m.reg.AppendChange(ctx, &ev); err != nil {
		m.logger.Error("appending change event", "id", ev.ID, "error", err)
	}
	m.logger.Warn("asset changed",
		"id", a.ID, "path", path, "kind", kind, "penalty", penalty, "state", updated.TrustState)

	m.bus.Publish(ev)
}

// tick is the periodic path: every enabled asset with a verified
// baseline whose sensitivity interval has elapsed gets re-hashed.
func (m *Monitor) tick(ctx context.Context) {
	assets, err := m.reg.List(ctx, true)
	if err != nil {
		m.logger.Error("listing assets for rescan", "error", err)
		return
	}
	now := time.Now()
	for i := range assets {
		if m.cfg.Intervals.due(&assets[i], now) {
			m.rescan(ctx, assets[i].ID)
		}
	}
}

// rescan re-verifies one asset: hash match keeps it verified (and
// refreshes the verification timestamp); a mismatch runs the same
// change pipeline as the real-time path, narrowing directory changes
// down to the most recently modified files.
func (m *Monitor) rescan(ctx context.Context, id string) {
	unlock := m.locks.lock(id)
	defer unlock()

	a, err := m.reg.Get(ctx, id)
	if err != nil {
		m.logger.Error("reloading asset for rescan", "id", id, "error", err)
		return
	}
	m.metrics.Rescans.Inc()

	newHash, err := m.hasher.HashPath(ctx, a.Path, a.Type == registry.TypeDirectory)
	if err != nil {
		m.reportHashFailure(a, err)
		return
	}

	if newHash == a.VerifiedHash {
		if err := m.reg.SetContentHash(ctx, a.ID, newHash); err != nil {
			m.logger.Error("caching content hash", "id", a.ID, "error", err)
			return
		}
		if _, err := m.reg.Verify(ctx, a.ID); err != nil {
			m.logger.Error("refreshing verification", "id", a.ID, "error", err)
		}
		return
	}

	path := a.Path
	kind := registry.ChangeModified
	var culprits []string
	if a.Type == registry.TypeDirectory {
		for _, f := range hashing.RecentlyModified(a.Path, m.cfg.RecentWindow, m.cfg.RecentDepth, m.cfg.RecentLimit) {
			culprits = append(culprits, f.Path)
		}
		if len(culprits) > 0 {
			path = culprits[0] // most likely culprit, not the directory root
		}
	}

	before := a.TrustState
	prevHash := a.ContentHash
	updated, err := m.reg.MarkChanged(ctx, a.ID, newHash)
	if err != nil {
		m.logger.Error("marking asset changed", "id", a.ID, "error", err)
		return
	}
	penalty := scorePenalty(kind, a.Sensitivity)
	if err := m.reg.UpdateTrustScore(ctx, a.ID, a.TrustScore-penalty); err != nil {
		m.logger.Error("updating trust score", "id", a.ID, "error", err)
	}

	ev := registry.ChangeEvent{
		ID:          uuid.NewString(),
		AssetID:     a.ID,
		Path:        path,
		Kind:        kind,
		PrevHash:    prevHash,
		NewHash:     newHash,
		StateBefore: before,
		StateAfter:  updated.TrustState,
		Timestamp:   time.Now().UTC(),
	}
	if len(culprits) > 0 {
		ev.Metadata = map[string]string{"recently_modified": strings.Join(culprits, "\n")}
	}
	if meta, err := m.enrich(ctx, path, kind); err == nil && len(meta) > 0 {
		if ev.Metadata == nil {
			ev.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			ev.Metadata[k] = v
		}
	}

	if err := m.reg.AppendChange(ctx, &ev); err != nil {
		m.logger.Error("appending change event", "id", ev.ID, "error", err)
	}
	m.logger.Warn("re-verification mismatch",
		"id", a.ID, "path", path, "penalty", penalty)
	m.bus.Publish(ev)
}

// VerifyAsset forces an immediate re-hash and runs the same
// compare/transition logic as periodic re-verification. For an asset
// with no baseline this is the human action that grants trust.
func (m *Monitor) VerifyAsset(ctx context.Context, id string) (*registry.Asset, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	a, err := m.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newHash, err := m.hasher.HashPath(ctx, a.Path, a.Type == registry.TypeDirectory)
	if err != nil {
		m.reportHashFailure(a, err)
		return nil, err
	}

	if a.VerifiedHash != "" && newHash != a.VerifiedHash {
		m.flagChanged(ctx, a, a.Path, registry.ChangeModified, newHash)
		return m.reg.Get(ctx, id)
	}

	if err := m.reg.SetContentHash(ctx, id, newHash); err != nil {
		return nil, err
	}
	return m.reg.Verify(ctx, id)
}

// AcceptChanges re-baselines trust on the asset's current content,
// discarding the prior discrepancy.
func (m *Monitor) AcceptChanges(ctx context.Context, id string) (*registry.Asset, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	a, err := m.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	newHash, err := m.hasher.HashPath(ctx, a.Path, a.Type == registry.TypeDirectory)
	if err != nil {
		m.reportHashFailure(a, err)
		return nil, err
	}
	if err := m.reg.SetContentHash(ctx, id, newHash); err != nil {
		return nil, err
	}
	return m.reg.Verify(ctx, id)
}

// resolveAsset maps an event path to the responsible asset: exact path
// match first, else the nearest registered directory ancestor (longest
// prefix wins by walking upward).
func (m *Monitor) resolveAsset(ctx context.Context, path string) (*registry.Asset, error) {
	a, err := m.reg.GetByPath(ctx, path)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, registry.ErrAssetNotFound) {
		return nil, err
	}

	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		a, err := m.reg.GetByPath(ctx, dir)
		if err == nil {
			if a.Type == registry.TypeDirectory {
				return a, nil
			}
		} else if !errors.Is(err, registry.ErrAssetNotFound) {
			return nil, err
		}
		if dir == filepath.Dir(dir) {
			return nil, registry.ErrAssetNotFound
		}
	}
}

// reportHashFailure logs a hash failure with the right severity: a
// timeout means "unknown this cycle, retry next tick", not an error.
func (m *Monitor) reportHashFailure(a *registry.Asset, err error) {
	var terr *hashing.TimeoutError
	if errors.As(err, &terr) {
		m.metrics.HashTimeouts.Inc()
		m.logger.Warn("hash timed out, skipping this cycle", "id", a.ID, "path", a.Path)
		return
	}
	m.logger.Error("hashing asset failed", "id", a.ID, "path", a.Path, "error", err)
}
