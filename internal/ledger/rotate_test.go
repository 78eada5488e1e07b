package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/attestra/attestra/internal/cryptoutil"
)

func TestRotateKeyReencryptsAndRechains(t *testing.T) {
	s := newTestStore(t)

	payloads := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	var ids []string
	for _, p := range payloads {
		ids = append(ids, appendRecord(t, s, "event", p).ID)
	}

	var beforeCipher []byte
	if err := s.db.QueryRow("SELECT payload FROM evidence_records WHERE id = ?", ids[0]).Scan(&beforeCipher); err != nil {
		t.Fatal(err)
	}
	oldKeys := s.keys.Current()

	if err := s.RotateKey(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(s.keys.Current().Payload, oldKeys.Payload) {
		t.Fatal("keys unchanged after rotation")
	}

	// Every payload decrypts under the new key.
	for i, id := range ids {
		got, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("record %s unreadable after rotation: %v", id, err)
		}
		if !bytes.Equal(got.Payload, payloads[i]) {
			t.Errorf("record %s payload = %q, want %q", id, got.Payload, payloads[i])
		}
	}

	// Ciphertext actually changed on disk, and the retired key no
	// longer opens it.
	var afterCipher, afterNonce []byte
	if err := s.db.QueryRow("SELECT payload, nonce FROM evidence_records WHERE id = ?", ids[0]).Scan(&afterCipher, &afterNonce); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(beforeCipher, afterCipher) {
		t.Error("ciphertext unchanged after rotation")
	}
	if _, err := cryptoutil.Decrypt(oldKeys.Payload, afterCipher, afterNonce); err == nil {
		t.Error("rotated payload still decrypts under the old key")
	}

	// The chain was rebuilt under the new MAC key and still verifies.
	violations, err := s.VerifyChain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("chain broken after rotation: %v", violations)
	}

	// New appends continue from the rebuilt head.
	next := appendRecord(t, s, "after-rotation", []byte("fourth"))
	if violations, err = s.VerifyRecord(context.Background(), next.ID); err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("post-rotation append broke the chain: %v", violations)
	}
}

func TestRotateKeyAbortsOnUnreadableRecord(t *testing.T) {
	s := newTestStore(t)
	good := appendRecord(t, s, "good", []byte("readable"))
	bad := appendRecord(t, s, "bad", []byte("doomed"))

	if _, err := s.db.Exec("UPDATE evidence_records SET payload = X'00ff' WHERE id = ?", bad.ID); err != nil {
		t.Fatal(err)
	}

	err := s.RotateKey(context.Background(), nil)
	var derr *DecryptionError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want DecryptionError", err)
	}
	if derr.RecordID != bad.ID {
		t.Errorf("failing record = %s, want %s", derr.RecordID, bad.ID)
	}

	// The old keys must still be in effect: the good record stays readable.
	got, err := s.Get(context.Background(), good.ID)
	if err != nil {
		t.Fatalf("good record unreadable after aborted rotation: %v", err)
	}
	if string(got.Payload) != "readable" {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestRotateKeyWithPassphrase(t *testing.T) {
	s := newTestStore(t)
	r := appendRecord(t, s, "event", []byte("payload"))

	if err := s.RotateKey(context.Background(), []byte("new passphrase")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), r.ID); err != nil {
		t.Errorf("record unreadable after passphrase rotation: %v", err)
	}
}

func TestRotateKeyEmptyLedger(t *testing.T) {
	s := newTestStore(t)
	if err := s.RotateKey(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	// The store works normally afterwards.
	appendRecord(t, s, "event", []byte("first after rotation"))
}
