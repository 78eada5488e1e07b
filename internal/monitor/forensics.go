package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/attestra/attestra/internal/registry"
)

// ErrEnrichmentUnavailable is the typed outcome when forensics
// enrichment could not produce metadata in time (or at all).
var ErrEnrichmentUnavailable = errors.New("forensics enrichment unavailable")

// Enricher is the external forensics collaborator: given a change, it
// returns best-effort who/what/when metadata. Implementations may be
// slow or flaky; the monitor never lets them block the core pipeline.
type Enricher interface {
	Enrich(ctx context.Context, path string, kind registry.ChangeKind) (map[string]string, error)
}

const enrichTimeout = 2 * time.Second

// enrich runs the enricher under its own timeout and swallows failures
// into ErrEnrichmentUnavailable. A nil enricher is a valid no-op.
func (m *Monitor) enrich(ctx context.Context, path string, kind registry.ChangeKind) (map[string]string, error) {
	if m.enricher == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	type result struct {
		meta map[string]string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		meta, err := m.enricher.Enrich(ctx, path, kind)
		ch <- result{meta: meta, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrEnrichmentUnavailable
	case res := <-ch:
		if res.err != nil {
			return nil, errors.Join(ErrEnrichmentUnavailable, res.err)
		}
		return res.meta, nil
	}
}
