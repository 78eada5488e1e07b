package ledger

import (
	"context"
	"fmt"
)

// rowOverhead approximates the fixed per-row cost beyond payload bytes
// (ids, hashes, timestamps, index entries).
const rowOverhead = 512

// Footprint estimates the ledger's storage usage in bytes.
func (s *Store) Footprint(ctx context.Context) (int64, error) {
	var payloadBytes, count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(LENGTH(payload) + LENGTH(nonce)), 0), COUNT(*) FROM evidence_records").
		Scan(&payloadBytes, &count)
	if err != nil {
		return 0, fmt.Errorf("measuring footprint: %w", err)
	}
	return payloadBytes + count*rowOverhead, nil
}

// EnforceQuota deletes the oldest records in fixed-size batches until
// the footprint is back under the configured ceiling or the store is
// empty. Old evidence is knowingly sacrificed for availability; callers
// needing indefinite retention must export before hitting the quota.
// Each batch is one transaction covering the rows and their search
// mirror. Returns the number of records pruned.
func (s *Store) EnforceQuota(ctx context.Context) (int, error) {
	if s.cfg.QuotaBytes <= 0 {
		return 0, nil
	}

	pruned := 0
	for {
		footprint, err := s.Footprint(ctx)
		if err != nil {
			return pruned, err
		}
		if footprint <= s.cfg.QuotaBytes {
			return pruned, nil
		}

		n, err := s.pruneBatch(ctx)
		if err != nil {
			return pruned, err
		}
		if n == 0 {
			return pruned, nil
		}
		pruned += n
	}
}

func (s *Store) pruneBatch(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM evidence_records ORDER BY timestamp ASC LIMIT ?", s.cfg.PruneBatch)
	if err != nil {
		return 0, fmt.Errorf("selecting prune batch: %w", err)
	}
	var ids []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scanning prune batch: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := "?"
	for i := 1; i < len(ids); i++ {
		placeholders += ",?"
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM evidence_records WHERE id IN ("+placeholders+")", ids...); err != nil {
		return 0, fmt.Errorf("pruning records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM evidence_fts WHERE id IN ("+placeholders+")", ids...); err != nil {
		return 0, fmt.Errorf("pruning search mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return len(ids), nil
}
