package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attestra/attestra/internal/cryptoutil"
)

// GenerateCertificate snapshots the current evidence chain: it collects
// every record hash, sorts them, and computes a keyed chain value over
// the concatenation, then persists the certificate metadata. If a
// renderer is supplied, the produced artifact's location is stored with
// the certificate; rendering failures do not lose the certificate row.
func (s *Store) GenerateCertificate(ctx context.Context, score int, renderer Renderer) (*Certificate, error) {
	result, err := s.List(ctx, ListOpts{Limit: 10_000, SortBy: "timestamp"})
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(result.Records))
	for _, r := range result.Records {
		hashes = append(hashes, r.Hash)
	}
	sort.Strings(hashes)

	cert := &Certificate{
		ID:            uuid.NewString(),
		GeneratedAt:   time.Now().UTC(),
		Score:         clampScore(score),
		Level:         CertificateLevel(clampScore(score)),
		EvidenceCount: len(hashes),
		ChainValue:    cryptoutil.ChainMAC(s.keys.Current().Chain, []byte(strings.Join(hashes, "\n"))),
	}

	if renderer != nil {
		path, err := renderer.Render(*cert, result.Records)
		if err != nil {
			s.logger.Warn("certificate rendering failed", "id", cert.ID, "error", err)
		} else {
			cert.ArtifactPath = path
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO certificates (id, generated_at, score, level, evidence_count, chain_value, artifact_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cert.ID, cert.GeneratedAt.Format(time.RFC3339Nano), cert.Score, cert.Level,
		cert.EvidenceCount, cert.ChainValue, nullable(cert.ArtifactPath),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting certificate: %w", err)
	}
	return cert, nil
}

// ListCertificates returns stored certificates, newest first.
func (s *Store) ListCertificates(ctx context.Context, limit int) ([]Certificate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, generated_at, score, level, evidence_count, chain_value, COALESCE(artifact_path, '')
		 FROM certificates ORDER BY generated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying certificates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var certs []Certificate
	for rows.Next() {
		var c Certificate
		var generated string
		if err := rows.Scan(&c.ID, &generated, &c.Score, &c.Level, &c.EvidenceCount, &c.ChainValue, &c.ArtifactPath); err != nil {
			return nil, fmt.Errorf("scanning certificate: %w", err)
		}
		if c.GeneratedAt, err = time.Parse(time.RFC3339Nano, generated); err != nil {
			return nil, fmt.Errorf("certificate %s: parsing timestamp: %w", c.ID, err)
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
