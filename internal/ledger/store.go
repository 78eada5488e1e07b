// Package ledger implements the encrypted, hash-chained evidence store.
// Records are encrypted at rest (AES-256-GCM, one nonce per record),
// chained by keyed hash, mirrored into an FTS5 index for search, and
// pruned oldest-first under quota pressure.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/attestra/attestra/internal/cryptoutil"
	"github.com/attestra/attestra/internal/keymanager"
)

const schema = `
CREATE TABLE IF NOT EXISTS evidence_records (
	id TEXT PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	previous_hash TEXT,
	timestamp TEXT NOT NULL,
	source TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload BLOB NOT NULL,
	nonce BLOB NOT NULL,
	verified INTEGER NOT NULL DEFAULT 0,
	signature TEXT
);

CREATE INDEX IF NOT EXISTS idx_evidence_timestamp ON evidence_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_evidence_source ON evidence_records(source);
CREATE INDEX IF NOT EXISTS idx_evidence_event_type ON evidence_records(event_type);

CREATE VIRTUAL TABLE IF NOT EXISTS evidence_fts USING fts5(
	id UNINDEXED,
	source,
	event_type,
	content
);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	severity TEXT NOT NULL,
	kind TEXT NOT NULL,
	record_id TEXT,
	asset_id TEXT,
	message TEXT NOT NULL,
	acknowledged INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS certificates (
	id TEXT PRIMARY KEY,
	generated_at TEXT NOT NULL,
	score INTEGER NOT NULL,
	level TEXT NOT NULL,
	evidence_count INTEGER NOT NULL,
	chain_value TEXT NOT NULL,
	artifact_path TEXT
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

const (
	metaSecret    = "master_secret"
	metaSalt      = "master_salt"
	metaChainHead = "chain_head"
)

// Open opens (or creates) the ledger database and applies the schema.
// The returned handle is shared by the Store and the KeyStore.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return db, nil
}

// KeyStore persists master key material in the ledger's metadata table.
// It implements keymanager.Store and exists independently of Store so
// the key manager can be constructed first.
type KeyStore struct {
	db *sql.DB
}

// NewKeyStore wraps an opened ledger database.
func NewKeyStore(db *sql.DB) *KeyStore { return &KeyStore{db: db} }

// LoadKeyMaterial reads the stored secret and salt.
func (k *KeyStore) LoadKeyMaterial() (secret, salt []byte, err error) {
	secret, err = getMeta(k.db, metaSecret)
	if err != nil {
		return nil, nil, err
	}
	salt, err = getMeta(k.db, metaSalt)
	if err != nil {
		return nil, nil, err
	}
	return secret, salt, nil
}

// SaveKeyMaterial upserts the secret and salt.
func (k *KeyStore) SaveKeyMaterial(secret, salt []byte) error {
	if err := setMeta(k.db, metaSecret, secret); err != nil {
		return err
	}
	return setMeta(k.db, metaSalt, salt)
}

func getMeta(q querier, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, keymanager.ErrNoKeyMaterial
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata %s: %w", key, err)
	}
	return value, nil
}

func setMeta(q querier, key string, value []byte) error {
	_, err := q.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing metadata %s: %w", key, err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Config bounds the store's retention and search behavior.
type Config struct {
	QuotaBytes  int64 // storage ceiling; 0 disables pruning
	PruneBatch  int   // records deleted per pruning pass
	SearchLimit int   // max results returned by Search
}

// DefaultConfig returns the retention defaults used when no config
// file overrides them.
func DefaultConfig() Config {
	return Config{
		QuotaBytes:  256 << 20, // 256 MiB
		PruneBatch:  100,
		SearchLimit: 100,
	}
}

// Store is the evidence ledger. All writes (append, pruning, rotation)
// run inside single transactions so partial writes are never observable.
type Store struct {
	db     *sql.DB
	keys   *keymanager.Manager
	cfg    Config
	logger *slog.Logger

	onPrune func(records int)
	onAlert func()
}

// NewStore builds a ledger store on an opened database.
func NewStore(db *sql.DB, keys *keymanager.Manager, cfg Config, logger *slog.Logger) *Store {
	if cfg.PruneBatch <= 0 {
		cfg.PruneBatch = 100
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 100
	}
	return &Store{db: db, keys: keys, cfg: cfg, logger: logger}
}

// OnPrune registers a callback invoked with the number of records each
// quota enforcement pass removed. Used for instrumentation.
func (s *Store) OnPrune(fn func(records int)) { s.onPrune = fn }

// OnAlert registers a callback invoked whenever an alert is raised.
func (s *Store) OnAlert(fn func()) { s.onAlert = fn }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// canonical returns the deterministic byte sequence covered by a
// record's chain hash: id, previous hash, timestamp, source, event
// type, then the plaintext payload.
func canonical(r *Record) []byte {
	head := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n",
		r.ID, r.PreviousHash, r.Timestamp.UTC().Format(time.RFC3339Nano), r.Source, r.EventType)
	return append([]byte(head), r.Payload...)
}

// NewRecord builds the next record in the chain: fresh id and
// timestamp, previous hash set to the current chain head, hash computed
// over the canonical serialization with the chain-MAC key.
func (s *Store) NewRecord(source Source, eventType string, payload []byte) (*Record, error) {
	head, err := s.chainHead()
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:           uuid.NewString(),
		PreviousHash: head,
		Timestamp:    time.Now().UTC(),
		Source:       source,
		EventType:    eventType,
		Payload:      payload,
	}
	r.Hash = cryptoutil.ChainMAC(s.keys.Current().Chain, canonical(r))
	return r, nil
}

func (s *Store) chainHead() (string, error) {
	head, err := getMeta(s.db, metaChainHead)
	if err == keymanager.ErrNoKeyMaterial { // metadata key absent: empty chain
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(head), nil
}

// Append encrypts the record's payload and inserts the row plus its
// search-index mirror in one transaction, then enforces the storage
// quota. The record's Hash must already be set (chain construction is
// the caller's responsibility; see NewRecord).
func (s *Store) Append(ctx context.Context, r *Record) error {
	if r.Hash == "" {
		return fmt.Errorf("record %s has no chain hash", r.ID)
	}

	ciphertext, nonce, err := cryptoutil.Encrypt(s.keys.Current().Payload, r.Payload)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO evidence_records (id, hash, previous_hash, timestamp, source, event_type, payload, nonce, verified, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Hash, nullable(r.PreviousHash), r.Timestamp.UTC().Format(time.RFC3339Nano),
		string(r.Source), r.EventType, ciphertext, nonce, boolInt(r.Verified), nullable(r.Signature),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO evidence_fts (id, source, event_type, content) VALUES (?, ?, ?, ?)",
		r.ID, string(r.Source), r.EventType, string(r.Payload),
	)
	if err != nil {
		return fmt.Errorf("mirroring into search index: %w", err)
	}

	if err := setMeta(tx, metaChainHead, []byte(r.Hash)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}

	if pruned, err := s.EnforceQuota(ctx); err != nil {
		s.logger.Error("quota enforcement failed", "error", err)
	} else if pruned > 0 {
		s.logger.Info("quota pruning removed old evidence", "records", pruned)
		if s.onPrune != nil {
			s.onPrune(pruned)
		}
	}
	return nil
}

// Get returns one decrypted record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, hash, previous_hash, timestamp, source, event_type, payload, nonce, verified, signature
		 FROM evidence_records WHERE id = ?`, id)
	r, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return r, err
}

// sortColumns is the explicit allow-list for ListOpts.SortBy. Caller
// input never reaches the SQL text any other way.
var sortColumns = map[string]string{
	"timestamp":  "timestamp",
	"source":     "source",
	"event_type": "event_type",
	"id":         "id",
}

// List returns decrypted records matching the filters. Rows whose
// payload cannot be opened are reported in the result's Failures, not
// dropped silently and never fatal to the rest of the listing.
func (s *Store) List(ctx context.Context, opts ListOpts) (*ListResult, error) {
	query := `SELECT id, hash, previous_hash, timestamp, source, event_type, payload, nonce, verified, signature
		 FROM evidence_records WHERE 1=1`
	var args []any

	if opts.Source != "" {
		query += " AND source = ?"
		args = append(args, string(opts.Source))
	}
	if opts.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, opts.EventType)
	}
	if opts.Verified != nil {
		query += " AND verified = ?"
		args = append(args, boolInt(*opts.Verified))
	}

	col, ok := sortColumns[opts.SortBy]
	if !ok {
		col = "timestamp"
	}
	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", col, dir)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := &ListResult{}
	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			var derr *DecryptionError
			if errors.As(err, &derr) {
				result.Failures = append(result.Failures, *derr)
				continue
			}
			return nil, err
		}
		result.Records = append(result.Records, *r)
	}
	return result, rows.Err()
}

// MarkVerified flips the verified flag; the only legal mutation of a
// stored record besides attaching a signature.
func (s *Store) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE evidence_records SET verified = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AttachSignature stores an external signature on a record.
func (s *Store) AttachSignature(ctx context.Context, id, signature string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE evidence_records SET signature = ? WHERE id = ?", signature, id)
	if err != nil {
		return fmt.Errorf("attaching signature: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evidence_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRecord decodes and decrypts one row. A failed decryption comes
// back as *DecryptionError so callers can skip-and-flag.
func (s *Store) scanRecord(row scannable) (*Record, error) {
	var r Record
	var prev, sig sql.NullString
	var ts, source string
	var ciphertext, nonce []byte
	var verified int

	err := row.Scan(&r.ID, &r.Hash, &prev, &ts, &source, &r.EventType, &ciphertext, &nonce, &verified, &sig)
	if err != nil {
		return nil, err
	}
	r.PreviousHash = prev.String
	r.Signature = sig.String
	r.Source = Source(source)
	r.Verified = verified != 0
	if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("record %s: parsing timestamp: %w", r.ID, err)
	}

	plaintext, err := cryptoutil.Decrypt(s.keys.Current().Payload, ciphertext, nonce)
	if err != nil {
		return nil, &DecryptionError{RecordID: r.ID, Err: err}
	}
	r.Payload = plaintext
	return &r, nil
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
