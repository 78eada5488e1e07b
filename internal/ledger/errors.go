package ledger

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned when a record id does not exist.
var ErrRecordNotFound = errors.New("evidence record not found")

// DecryptionError reports a payload that could not be opened under the
// current key. It is surfaced per record and is never fatal to batch
// operations.
type DecryptionError struct {
	RecordID string
	Err      error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("record %s: payload decryption failed: %v", e.RecordID, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Violation kinds reported by VerifyRecord and VerifyChain.
const (
	ViolationHashMismatch  = "hash_mismatch"
	ViolationMissingPrev   = "missing_previous"
	ViolationUnreadable    = "payload_unreadable"
	ViolationDuplicateHash = "duplicate_hash"
)

// Violation describes one failed chain invariant. Verification returns
// a list of these rather than a bare bool so callers can report which
// invariant failed. Violations are reported, never auto-repaired.
type Violation struct {
	RecordID string `json:"record_id"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.RecordID, v.Kind, v.Detail)
}
