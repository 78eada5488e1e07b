package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RaiseAlert persists a new alert. Alerts are immutable once written
// apart from acknowledgement.
func (s *Store) RaiseAlert(ctx context.Context, severity, kind, recordID, assetID, message string) (*Alert, error) {
	a := &Alert{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Severity:  severity,
		Kind:      kind,
		RecordID:  recordID,
		AssetID:   assetID,
		Message:   message,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, created_at, severity, kind, record_id, asset_id, message, acknowledged)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		a.ID, a.CreatedAt.Format(time.RFC3339Nano), a.Severity, a.Kind,
		nullable(a.RecordID), nullable(a.AssetID), a.Message,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting alert: %w", err)
	}
	if s.onAlert != nil {
		s.onAlert()
	}
	s.logger.Warn("alert raised", "severity", a.Severity, "kind", a.Kind, "message", a.Message)
	return a, nil
}

// ListAlerts returns alerts, optionally only unacknowledged ones,
// newest first.
func (s *Store) ListAlerts(ctx context.Context, openOnly bool, limit int) ([]Alert, error) {
	query := `SELECT id, created_at, severity, kind, record_id, asset_id, message, acknowledged
		 FROM alerts`
	if openOnly {
		query += " WHERE acknowledged = 0"
	}
	query += " ORDER BY created_at DESC"
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var created string
		var recordID, assetID sql.NullString
		var ack int
		if err := rows.Scan(&a.ID, &created, &a.Severity, &a.Kind, &recordID, &assetID, &a.Message, &ack); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.RecordID = recordID.String
		a.AssetID = assetID.String
		a.Acknowledged = ack != 0
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("alert %s: parsing timestamp: %w", a.ID, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert as seen.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE alerts SET acknowledged = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}
