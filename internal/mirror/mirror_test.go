package mirror

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/internal/hashing"
	"github.com/attestra/attestra/internal/keymanager"
	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/registry"
)

func newTestStores(t *testing.T) (*ledger.Store, *registry.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	db, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	keys, err := keymanager.Open(ledger.NewKeyStore(db), nil, logger)
	require.NoError(t, err)
	store := ledger.NewStore(db, keys, ledger.Config{}, logger)
	t.Cleanup(func() { _ = store.Close() })

	hasher := hashing.New(5*time.Second, hashing.DefaultDirectoryOpts(), logger)
	reg, err := registry.NewStore(filepath.Join(dir, "assets.db"), hasher, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	return store, reg
}

func addAsset(t *testing.T, reg *registry.Store, sensitivity registry.Sensitivity) *registry.Asset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asset.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	a, err := reg.Add(context.Background(), path, registry.TypeFile, sensitivity, "")
	require.NoError(t, err)
	return a
}

func changeEvent(assetID, path string, kind registry.ChangeKind) registry.ChangeEvent {
	return registry.ChangeEvent{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Path:        path,
		Kind:        kind,
		PrevHash:    "prev",
		NewHash:     "new",
		StateBefore: registry.StateVerified,
		StateAfter:  registry.StateChanged,
		Timestamp:   time.Now().UTC(),
	}
}

func TestListenerMirrorsEventIntoLedger(t *testing.T) {
	store, reg := newTestStores(t)
	a := addAsset(t, reg, registry.SensitivityNormal)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listen := Listener(store, logger)
	ev := changeEvent(a.ID, a.Path, registry.ChangeModified)
	require.NoError(t, listen(ev))

	result, err := store.List(context.Background(), ledger.ListOpts{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, ledger.SourceAssetMonitor, rec.Source)
	assert.Equal(t, "asset-modified", rec.EventType)

	var decoded registry.ChangeEvent
	require.NoError(t, json.Unmarshal(rec.Payload, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.AssetID, decoded.AssetID)

	violations, err := store.VerifyRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Empty(t, violations, "mirrored record joins the chain intact")
}

func TestAlertListenerRaisesOnDeletion(t *testing.T) {
	store, reg := newTestStores(t)
	a := addAsset(t, reg, registry.SensitivityNormal)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listen := AlertListener(store, reg, logger)
	require.NoError(t, listen(changeEvent(a.ID, a.Path, registry.ChangeDeleted)))

	alerts, err := store.ListAlerts(context.Background(), true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, a.ID, alerts[0].AssetID)
}

func TestAlertListenerRaisesOnCriticalAssetChange(t *testing.T) {
	store, reg := newTestStores(t)
	a := addAsset(t, reg, registry.SensitivityCritical)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listen := AlertListener(store, reg, logger)
	require.NoError(t, listen(changeEvent(a.ID, a.Path, registry.ChangeModified)))

	alerts, err := store.ListAlerts(context.Background(), true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "warning", alerts[0].Severity)
}

func TestAlertListenerSilentForRoutineChange(t *testing.T) {
	store, reg := newTestStores(t)
	a := addAsset(t, reg, registry.SensitivityNormal)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	listen := AlertListener(store, reg, logger)
	require.NoError(t, listen(changeEvent(a.ID, a.Path, registry.ChangeModified)))

	alerts, err := store.ListAlerts(context.Background(), true, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts, "normal-sensitivity modification is not alert-worthy")
}
