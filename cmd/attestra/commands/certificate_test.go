package commands

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/registry"
)

func TestAverageTrustScore(t *testing.T) {
	assert.Equal(t, 100, averageTrustScore(nil), "empty registry scores full")

	assets := []registry.Asset{
		{TrustScore: 100},
		{TrustScore: 70},
		{TrustScore: 40},
	}
	assert.Equal(t, 70, averageTrustScore(assets))

	assert.Equal(t, 0, averageTrustScore([]registry.Asset{{TrustScore: 0}}))
}

func TestJSONRendererWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	r := &jsonRenderer{dir: dir}

	cert := ledger.Certificate{ID: "cert-1", Score: 85, Level: "medium", EvidenceCount: 2, ChainValue: "abc"}
	records := []ledger.Record{
		{ID: "r1", Hash: "h1", EventType: "asset-modified"},
		{ID: "r2", Hash: "h2", EventType: "asset-deleted"},
	}

	path, err := r.Render(cert, records)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Certificate ledger.Certificate `json:"certificate"`
		Evidence    []struct {
			ID   string `json:"id"`
			Hash string `json:"hash"`
		} `json:"evidence"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "cert-1", doc.Certificate.ID)
	require.Len(t, doc.Evidence, 2)
	assert.Equal(t, "h1", doc.Evidence[0].Hash)
}

func TestJSONRendererBadDirectory(t *testing.T) {
	r := &jsonRenderer{dir: "/no/such/directory"}
	_, err := r.Render(ledger.Certificate{ID: "c"}, nil)
	assert.Error(t, err)
}
