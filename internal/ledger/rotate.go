package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/attestra/attestra/internal/cryptoutil"
)

// RotateKey generates fresh key material and rewrites every stored
// record under it within one transaction: decrypt with the old payload
// key, encrypt with the new, and recompute the chain in order under the
// new chain-MAC key (each hash covers the previous one, so the links
// are rebuilt front to back and the chain head is moved last). If any
// payload fails to decrypt the whole transaction rolls back and the old
// keys stay in effect; a ledger half under each key is a correctness
// hazard this method refuses to create. The new secret and salt are
// persisted in the same transaction, and the key manager swaps its
// in-memory keys only after the commit succeeds.
func (s *Store) RotateKey(ctx context.Context, passphrase []byte) error {
	oldKeys := s.keys.Current()

	return s.keys.Rotate(passphrase, func(newKeys cryptoutil.Keys, secret, salt []byte) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning rotation tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx,
			`SELECT id, timestamp, source, event_type, payload, nonce
			 FROM evidence_records ORDER BY timestamp ASC, id ASC`)
		if err != nil {
			return fmt.Errorf("reading records: %w", err)
		}

		type rewrite struct {
			id         string
			hash       string
			prevHash   string
			ciphertext []byte
			nonce      []byte
		}
		var updates []rewrite
		prev := ""

		for rows.Next() {
			var id, ts, source, eventType string
			var ciphertext, nonce []byte
			if err := rows.Scan(&id, &ts, &source, &eventType, &ciphertext, &nonce); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scanning record: %w", err)
			}
			plaintext, err := cryptoutil.Decrypt(oldKeys.Payload, ciphertext, nonce)
			if err != nil {
				_ = rows.Close()
				return &DecryptionError{RecordID: id, Err: err}
			}
			timestamp, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				_ = rows.Close()
				return fmt.Errorf("record %s: parsing timestamp: %w", id, err)
			}

			r := &Record{
				ID:           id,
				PreviousHash: prev,
				Timestamp:    timestamp,
				Source:       Source(source),
				EventType:    eventType,
				Payload:      plaintext,
			}
			hash := cryptoutil.ChainMAC(newKeys.Chain, canonical(r))

			newCiphertext, newNonce, err := cryptoutil.Encrypt(newKeys.Payload, plaintext)
			if err != nil {
				_ = rows.Close()
				return fmt.Errorf("re-encrypting record %s: %w", id, err)
			}
			updates = append(updates, rewrite{
				id: id, hash: hash, prevHash: prev,
				ciphertext: newCiphertext, nonce: newNonce,
			})
			prev = hash
		}
		if err := rows.Close(); err != nil {
			return err
		}

		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				"UPDATE evidence_records SET hash = ?, previous_hash = ?, payload = ?, nonce = ? WHERE id = ?",
				u.hash, nullable(u.prevHash), u.ciphertext, u.nonce, u.id); err != nil {
				return fmt.Errorf("rewriting record %s: %w", u.id, err)
			}
		}

		if err := setMeta(tx, metaChainHead, []byte(prev)); err != nil {
			return err
		}
		if err := setMeta(tx, metaSecret, secret); err != nil {
			return err
		}
		if err := setMeta(tx, metaSalt, salt); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing rotation: %w", err)
		}
		s.logger.Info("re-encrypted ledger under new key", "records", len(updates))
		return nil
	})
}
