// Package mirror forwards asset change events into the evidence
// ledger. It is the consumer the monitor's bus is designed around:
// every detected change becomes one chained, encrypted evidence record.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/monitor"
	"github.com/attestra/attestra/internal/registry"
)

const appendTimeout = 10 * time.Second

// Listener returns a bus listener that records each change event as an
// evidence record with event type "asset-<kind>". Failures propagate
// to the bus, which isolates and counts them.
func Listener(store *ledger.Store, logger *slog.Logger) monitor.ListenerFunc {
	return func(ev registry.ChangeEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding change event: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		rec, err := store.NewRecord(ledger.SourceAssetMonitor, "asset-"+string(ev.Kind), payload)
		if err != nil {
			return fmt.Errorf("building evidence record: %w", err)
		}
		if err := store.Append(ctx, rec); err != nil {
			return fmt.Errorf("appending evidence record: %w", err)
		}
		logger.Debug("change event mirrored into ledger", "event", ev.ID, "record", rec.ID)
		return nil
	}
}

// AlertListener returns a bus listener that raises operator alerts for
// high-impact changes: every deletion, and any change to an asset with
// critical sensitivity.
func AlertListener(store *ledger.Store, reg *registry.Store, logger *slog.Logger) monitor.ListenerFunc {
	return func(ev registry.ChangeEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		severity := ""
		switch {
		case ev.Kind == registry.ChangeDeleted:
			severity = "critical"
		default:
			a, err := reg.Get(ctx, ev.AssetID)
			if err != nil {
				return fmt.Errorf("looking up asset %s: %w", ev.AssetID, err)
			}
			if a.Sensitivity == registry.SensitivityCritical {
				severity = "warning"
			}
		}
		if severity == "" {
			return nil
		}

		msg := fmt.Sprintf("%s: %s", ev.Kind, ev.Path)
		if _, err := store.RaiseAlert(ctx, severity, string(ev.Kind), "", ev.AssetID, msg); err != nil {
			return fmt.Errorf("raising alert: %w", err)
		}
		return nil
	}
}
