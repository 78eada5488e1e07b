package ledger

import "time"

// Source identifies where an evidence record originated.
type Source string

const (
	SourceAssetMonitor Source = "asset_monitor"
	SourceSession      Source = "session"
	SourceExternal     Source = "external"
	SourceManual       Source = "manual"
)

// Record is one entry in the tamper-evident evidence chain. Payload is
// encrypted at rest; the struct always carries plaintext. Records are
// created once via Append and never mutated afterwards except for the
// Verified flag and Signature; they are deleted only by quota pruning.
type Record struct {
	ID           string    `json:"id"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previous_hash,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Source       Source    `json:"source"`
	EventType    string    `json:"event_type"`
	Payload      []byte    `json:"payload"`
	Verified     bool      `json:"verified"`
	Signature    string    `json:"signature,omitempty"`
}

// Alert is an auxiliary immutable record raised when an integrity
// concern needs operator attention.
type Alert struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Severity     string    `json:"severity"` // info, warning, critical
	Kind         string    `json:"kind"`
	RecordID     string    `json:"record_id,omitempty"`
	AssetID      string    `json:"asset_id,omitempty"`
	Message      string    `json:"message"`
	Acknowledged bool      `json:"acknowledged"`
}

// Certificate snapshots a signature chain over a set of evidence
// records. The rendered artifact is produced by an external renderer;
// only its metadata is persisted here.
type Certificate struct {
	ID            string    `json:"id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Score         int       `json:"score"`
	Level         string    `json:"level"`
	EvidenceCount int       `json:"evidence_count"`
	ChainValue    string    `json:"chain_value"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
}

// Renderer turns a certificate plus its evidence into a durable
// artifact. Rendering is an external collaborator; the ledger only
// records where the artifact ended up.
type Renderer interface {
	Render(cert Certificate, records []Record) (artifactPath string, err error)
}

// CertificateLevel maps a trust score to a coarse certificate level.
func CertificateLevel(score int) string {
	switch {
	case score >= 90:
		return "high"
	case score >= 60:
		return "medium"
	default:
		return "low"
	}
}

// ListOpts controls pagination, sorting, and filtering of ListRecords.
type ListOpts struct {
	Limit     int
	Offset    int
	SortBy    string // must be in the sort column allow-list
	SortDesc  bool
	Source    Source
	EventType string
	Verified  *bool
}

// ListResult carries the decrypted records plus any per-row decryption
// failures. A bad row never aborts the whole listing.
type ListResult struct {
	Records  []Record
	Failures []DecryptionError
}
