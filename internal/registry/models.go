package registry

import "time"

// AssetType distinguishes file and directory assets.
type AssetType string

const (
	TypeFile      AssetType = "file"
	TypeDirectory AssetType = "directory"
)

// Sensitivity is the per-asset classification controlling trust-score
// penalty multipliers and periodic re-verification frequency.
type Sensitivity string

const (
	SensitivityNormal   Sensitivity = "normal"
	SensitivityStrict   Sensitivity = "strict"
	SensitivityCritical Sensitivity = "critical"
)

// TrustState is the three-valued lifecycle status of a monitored asset.
type TrustState string

const (
	StateUnverified TrustState = "unverified"
	StateVerified   TrustState = "verified"
	StateChanged    TrustState = "changed"
)

// Asset is one user-designated high-value file or directory under
// watch. Invariant: StateVerified implies ContentHash == VerifiedHash.
// A freshly added asset has no VerifiedHash: trust is never granted by
// default, only by an explicit human Verify.
type Asset struct {
	ID            string      `json:"id"`
	Path          string      `json:"path"` // absolute, unique
	Name          string      `json:"name"`
	Type          AssetType   `json:"type"`
	Sensitivity   Sensitivity `json:"sensitivity"`
	TrustState    TrustState  `json:"trust_state"`
	TrustScore    int         `json:"trust_score"` // always in [0,100]
	ContentHash   string      `json:"content_hash"`
	VerifiedHash  string      `json:"verified_hash,omitempty"` // last accepted baseline; empty = never trusted
	LastVerified  time.Time   `json:"last_verified,omitempty"`
	LastChanged   time.Time   `json:"last_changed,omitempty"`
	ChangeCount   int         `json:"change_count"`
	EvidenceCount int         `json:"evidence_count"`
	Enabled       bool        `json:"enabled"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ChangeKind classifies one detected mutation.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeModified   ChangeKind = "modified"
	ChangeDeleted    ChangeKind = "deleted"
	ChangeRenamed    ChangeKind = "renamed"
	ChangePermission ChangeKind = "permission-changed"
)

// ChangeEvent is the ephemeral record of one detected mutation,
// persisted append-only into the per-asset change log and never
// mutated. Metadata may carry best-effort forensics enrichment.
type ChangeEvent struct {
	ID          string            `json:"id"`
	AssetID     string            `json:"asset_id"`
	Path        string            `json:"path"` // affected path (culprit file for directory assets when known)
	Kind        ChangeKind        `json:"kind"`
	PrevHash    string            `json:"prev_hash,omitempty"`
	NewHash     string            `json:"new_hash,omitempty"`
	StateBefore TrustState        `json:"state_before"`
	StateAfter  TrustState        `json:"state_after"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
