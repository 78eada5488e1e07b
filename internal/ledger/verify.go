package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/attestra/attestra/internal/cryptoutil"
)

// VerifyRecord recomputes the keyed hash over the record's canonical
// serialization and checks that the referenced previous hash exists.
// It returns every violated invariant; an empty slice means the record
// is intact. Violations are reported, never repaired.
func (s *Store) VerifyRecord(ctx context.Context, id string) ([]Violation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		var derr *DecryptionError
		if errors.As(err, &derr) {
			return []Violation{{RecordID: id, Kind: ViolationUnreadable, Detail: derr.Err.Error()}}, nil
		}
		return nil, err
	}
	return s.verify(ctx, r)
}

func (s *Store) verify(ctx context.Context, r *Record) ([]Violation, error) {
	var violations []Violation

	want := cryptoutil.ChainMAC(s.keys.Current().Chain, canonical(r))
	if !cryptoutil.MACEqual(want, r.Hash) {
		violations = append(violations, Violation{
			RecordID: r.ID,
			Kind:     ViolationHashMismatch,
			Detail:   fmt.Sprintf("stored hash %s does not match recomputed value", r.Hash),
		})
	}

	if r.PreviousHash != "" {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM evidence_records WHERE hash = ?", r.PreviousHash).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("looking up previous hash: %w", err)
		}
		if n == 0 {
			violations = append(violations, Violation{
				RecordID: r.ID,
				Kind:     ViolationMissingPrev,
				Detail:   fmt.Sprintf("no record with hash %s (chain broken or pruned)", r.PreviousHash),
			})
		}
	}
	return violations, nil
}

// VerifyChain sweeps every stored record and aggregates all violations.
// Unreadable payloads are flagged and skipped; one bad record never
// aborts verification of the rest. The oldest surviving record after a
// quota prune legitimately dangles, which shows up here as a
// missing-previous violation.
func (s *Store) VerifyChain(ctx context.Context) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash, previous_hash, timestamp, source, event_type, payload, nonce, verified, signature
		 FROM evidence_records ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []Violation
	for rows.Next() {
		r, err := s.scanRecord(rows)
		if err != nil {
			var derr *DecryptionError
			if errors.As(err, &derr) {
				all = append(all, Violation{RecordID: derr.RecordID, Kind: ViolationUnreadable, Detail: derr.Err.Error()})
				continue
			}
			return nil, err
		}
		vs, err := s.verify(ctx, r)
		if err != nil {
			return nil, err
		}
		all = append(all, vs...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dups, err := s.duplicateHashes(ctx)
	if err != nil {
		return nil, err
	}
	return append(all, dups...), nil
}

// duplicateHashes flags records sharing a chain hash. The schema's
// UNIQUE constraint prevents this through Append, so any hit means the
// database was rewritten outside this process.
func (s *Store) duplicateHashes(ctx context.Context) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash FROM evidence_records
		 WHERE hash IN (SELECT hash FROM evidence_records GROUP BY hash HAVING COUNT(*) > 1)
		 ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying duplicate hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var violations []Violation
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scanning duplicate hash: %w", err)
		}
		violations = append(violations, Violation{
			RecordID: id,
			Kind:     ViolationDuplicateHash,
			Detail:   fmt.Sprintf("hash %s is shared by more than one record", hash),
		})
	}
	return violations, rows.Err()
}
