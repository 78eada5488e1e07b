// Package registry owns the set of monitored assets, their trust
// state, and the append-only per-asset change log. Its schema is
// independent of the evidence ledger; the monitor forwards change
// events into the ledger through a listener.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/attestra/attestra/internal/hashing"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	sensitivity TEXT NOT NULL,
	trust_state TEXT NOT NULL,
	trust_score INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	verified_hash TEXT,
	last_verified TEXT,
	last_changed TEXT,
	change_count INTEGER NOT NULL DEFAULT 0,
	evidence_count INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_change_log (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES assets(id),
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	prev_hash TEXT,
	new_hash TEXT,
	state_before TEXT NOT NULL,
	state_after TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_change_log_asset ON asset_change_log(asset_id, timestamp);
`

// ErrAssetNotFound is returned when an asset id or path does not exist.
var ErrAssetNotFound = errors.New("asset not found")

// Store persists assets and their change logs in SQLite.
type Store struct {
	db     *sql.DB
	hasher *hashing.Hasher
	logger *slog.Logger
}

// NewStore opens (or creates) the asset database.
func NewStore(dbPath string, hasher *hashing.Hasher, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening asset db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating asset schema: %w", err)
	}
	return &Store{db: db, hasher: hasher, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Add registers a new asset: resolves the path to absolute, computes
// its initial content hash, and inserts it unverified with a full
// score and no trusted baseline.
func (s *Store) Add(ctx context.Context, path string, typ AssetType, sensitivity Sensitivity, name string) (*Asset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	hash, err := s.hasher.HashPath(ctx, abs, typ == TypeDirectory)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", abs, err)
	}

	a := &Asset{
		ID:          uuid.NewString(),
		Path:        abs,
		Name:        name,
		Type:        typ,
		Sensitivity: sensitivity,
		TrustState:  StateUnverified,
		TrustScore:  100,
		ContentHash: hash,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assets (id, path, name, type, sensitivity, trust_state, trust_score, content_hash, verified_hash, last_verified, last_changed, change_count, evidence_count, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, 0, 0, 1, ?)`,
		a.ID, a.Path, a.Name, string(a.Type), string(a.Sensitivity), string(a.TrustState),
		a.TrustScore, a.ContentHash, a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting asset: %w", err)
	}
	s.logger.Info("asset registered", "id", a.ID, "path", a.Path, "sensitivity", a.Sensitivity)
	return a, nil
}

// Verify establishes the trusted baseline: the current content hash
// becomes the verified hash and the asset moves to the verified state
// with a full score. This is the only path that grants trust.
func (s *Store) Verify(ctx context.Context, id string) (*Asset, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET verified_hash = content_hash, trust_state = ?, trust_score = 100, last_verified = ?
		 WHERE id = ?`, string(StateVerified), now, id)
	if err != nil {
		return nil, fmt.Errorf("verifying asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAssetNotFound
	}
	return s.Get(ctx, id)
}

// MarkChanged records a new content hash and moves the asset to the
// changed state. The verified hash is deliberately left untouched so
// the old trusted baseline remains available for diffing.
func (s *Store) MarkChanged(ctx context.Context, id, newHash string) (*Asset, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET content_hash = ?, trust_state = ?, change_count = change_count + 1, last_changed = ?
		 WHERE id = ?`, newHash, string(StateChanged), now, id)
	if err != nil {
		return nil, fmt.Errorf("marking asset changed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAssetNotFound
	}
	return s.Get(ctx, id)
}

// UpdateTrustScore persists a new score, clamped to [0,100] regardless
// of input magnitude.
func (s *Store) UpdateTrustScore(ctx context.Context, id string, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	res, err := s.db.ExecContext(ctx, "UPDATE assets SET trust_score = ? WHERE id = ?", score, id)
	if err != nil {
		return fmt.Errorf("updating trust score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// SetContentHash updates only the cached content hash (used when the
// monitor re-verifies an asset and the hash still matches baseline, or
// clears it after a deletion).
func (s *Store) SetContentHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE assets SET content_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("updating content hash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// SetEnabled toggles monitoring for an asset. Assets are never deleted.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE assets SET enabled = ? WHERE id = ?", boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("toggling asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// Get returns one asset by id.
func (s *Store) Get(ctx context.Context, id string) (*Asset, error) {
	return s.one(ctx, "id = ?", id)
}

// GetByPath returns one asset by its absolute path.
func (s *Store) GetByPath(ctx context.Context, path string) (*Asset, error) {
	return s.one(ctx, "path = ?", path)
}

func (s *Store) one(ctx context.Context, where string, arg any) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, selectAssets+" WHERE "+where, arg)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssetNotFound
	}
	return a, err
}

// List returns assets, optionally only enabled ones, ordered by path.
func (s *Store) List(ctx context.Context, enabledOnly bool) ([]Asset, error) {
	query := selectAssets
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY path"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// AppendChange writes one change event to the append-only log and bumps
// the asset's evidence counter.
func (s *Store) AppendChange(ctx context.Context, ev *ChangeEvent) error {
	metadata := ""
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encoding event metadata: %w", err)
		}
		metadata = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning change tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO asset_change_log (id, asset_id, path, kind, prev_hash, new_hash, state_before, state_after, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.AssetID, ev.Path, string(ev.Kind), nullable(ev.PrevHash), nullable(ev.NewHash),
		string(ev.StateBefore), string(ev.StateAfter), ev.Timestamp.UTC().Format(time.RFC3339Nano), nullable(metadata),
	)
	if err != nil {
		return fmt.Errorf("inserting change event: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE assets SET evidence_count = evidence_count + 1 WHERE id = ?", ev.AssetID); err != nil {
		return fmt.Errorf("bumping evidence count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing change event: %w", err)
	}
	return nil
}

// Changes returns an asset's change log, newest first.
func (s *Store) Changes(ctx context.Context, assetID string, limit int) ([]ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset_id, path, kind, prev_hash, new_hash, state_before, state_after, timestamp, metadata
		 FROM asset_change_log WHERE asset_id = ? ORDER BY timestamp DESC LIMIT ?`, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying change log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []ChangeEvent
	for rows.Next() {
		var ev ChangeEvent
		var prev, newHash, metadata sql.NullString
		var kind, before, after, ts string
		if err := rows.Scan(&ev.ID, &ev.AssetID, &ev.Path, &kind, &prev, &newHash, &before, &after, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("scanning change event: %w", err)
		}
		ev.Kind = ChangeKind(kind)
		ev.PrevHash = prev.String
		ev.NewHash = newHash.String
		ev.StateBefore = TrustState(before)
		ev.StateAfter = TrustState(after)
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("change event %s: parsing timestamp: %w", ev.ID, err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("change event %s: decoding metadata: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

const selectAssets = `SELECT id, path, name, type, sensitivity, trust_state, trust_score, content_hash, verified_hash, last_verified, last_changed, change_count, evidence_count, enabled, created_at FROM assets`

type scannable interface {
	Scan(dest ...any) error
}

func scanAsset(row scannable) (*Asset, error) {
	var a Asset
	var typ, sensitivity, state, created string
	var verifiedHash, lastVerified, lastChanged sql.NullString
	var enabled int

	err := row.Scan(&a.ID, &a.Path, &a.Name, &typ, &sensitivity, &state, &a.TrustScore,
		&a.ContentHash, &verifiedHash, &lastVerified, &lastChanged,
		&a.ChangeCount, &a.EvidenceCount, &enabled, &created)
	if err != nil {
		return nil, err
	}
	a.Type = AssetType(typ)
	a.Sensitivity = Sensitivity(sensitivity)
	a.TrustState = TrustState(state)
	a.VerifiedHash = verifiedHash.String
	a.Enabled = enabled != 0
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("asset %s: parsing created_at: %w", a.ID, err)
	}
	if lastVerified.Valid {
		if a.LastVerified, err = time.Parse(time.RFC3339Nano, lastVerified.String); err != nil {
			return nil, fmt.Errorf("asset %s: parsing last_verified: %w", a.ID, err)
		}
	}
	if lastChanged.Valid {
		if a.LastChanged, err = time.Parse(time.RFC3339Nano, lastChanged.String); err != nil {
			return nil, fmt.Errorf("asset %s: parsing last_changed: %w", a.ID, err)
		}
	}
	return &a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
