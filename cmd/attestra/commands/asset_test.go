package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/internal/config"
	"github.com/attestra/attestra/internal/hashing"
	"github.com/attestra/attestra/internal/keymanager"
	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/registry"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	db, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	keys, err := keymanager.Open(ledger.NewKeyStore(db), nil, logger)
	require.NoError(t, err)
	store := ledger.NewStore(db, keys, ledger.Config{}, logger)

	hasher := hashing.New(5*time.Second, hashing.DefaultDirectoryOpts(), logger)
	reg, err := registry.NewStore(filepath.Join(dir, "assets.db"), hasher, logger)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.DataDir = dir

	e := &env{cfg: cfg, logger: logger, ledger: store, keys: keys, reg: reg, hasher: hasher}
	t.Cleanup(e.Close)
	return e
}

// A baseline mismatch found through manual verification must leave the
// same trail as one found by the daemon: score penalty, change log,
// mirrored evidence record, and alert.
func TestManualVerifyMismatchRunsFullPipeline(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "secrets.env")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	a, err := e.reg.Add(ctx, path, registry.TypeFile, registry.SensitivityCritical, "")
	require.NoError(t, err)
	_, err = e.reg.Verify(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	mon, _, err := buildMonitor(e)
	require.NoError(t, err)
	defer func() { _ = mon.Close() }()

	updated, err := mon.VerifyAsset(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, registry.StateChanged, updated.TrustState)
	assert.Equal(t, 70, updated.TrustScore) // modified 15 x critical 2.0

	events, err := e.reg.Changes(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, registry.ChangeModified, events[0].Kind)

	result, err := e.ledger.List(ctx, ledger.ListOpts{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, ledger.SourceAssetMonitor, result.Records[0].Source)
	assert.Equal(t, "asset-modified", result.Records[0].EventType)

	alerts, err := e.ledger.ListAlerts(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "warning", alerts[0].Severity)
	assert.Equal(t, a.ID, alerts[0].AssetID)
}

// Accepting changes re-baselines without penalizing or raising alerts.
func TestManualAcceptRebaselines(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	a, err := e.reg.Add(ctx, path, registry.TypeFile, registry.SensitivityNormal, "")
	require.NoError(t, err)
	_, err = e.reg.Verify(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	mon, _, err := buildMonitor(e)
	require.NoError(t, err)
	defer func() { _ = mon.Close() }()

	updated, err := mon.AcceptChanges(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StateVerified, updated.TrustState)
	assert.Equal(t, updated.ContentHash, updated.VerifiedHash)

	result, err := e.ledger.List(ctx, ledger.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}
