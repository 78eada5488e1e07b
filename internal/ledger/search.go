package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ftsQuery tokenizes user input and quotes every term so FTS5 operator
// characters (- * " ( ) etc.) cannot change the query's meaning. Terms
// are ANDed, matching FTS5's implicit conjunction.
func ftsQuery(input string) string {
	fields := strings.Fields(input)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		escaped := strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+escaped+`"`)
	}
	return strings.Join(terms, " ")
}

// Search runs a full-text query over the plaintext mirror and returns
// the matching decrypted records, bounded by the configured search
// limit. Unreadable rows are skipped and reported in Failures.
func (s *Store) Search(ctx context.Context, query string) (*ListResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return &ListResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.hash, r.previous_hash, r.timestamp, r.source, r.event_type, r.payload, r.nonce, r.verified, r.signature
		 FROM evidence_fts f
		 JOIN evidence_records r ON r.id = f.id
		 WHERE evidence_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`, match, s.cfg.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
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
