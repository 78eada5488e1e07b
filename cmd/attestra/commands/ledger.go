package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/attestra/attestra/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the evidence ledger",
	}
	cmd.AddCommand(
		newLedgerAddCmd(),
		newLedgerListCmd(),
		newLedgerVerifyCmd(),
		newLedgerSearchCmd(),
		newLedgerAlertsCmd(),
	)
	return cmd
}

func newLedgerAddCmd() *cobra.Command {
	var eventType string

	cmd := &cobra.Command{
		Use:   "add <payload...>",
		Short: "Append a manual evidence record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.ledger.NewRecord(ledger.SourceManual, eventType, []byte(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			if err := e.ledger.Append(cmd.Context(), rec); err != nil {
				return err
			}
			fmt.Printf("Recorded %s (%s)\n", rec.ID, rec.Hash[:16])
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "note", "event type to record")
	return cmd
}

func newLedgerAlertsCmd() *cobra.Command {
	var all bool
	var ack string

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List open alerts, or acknowledge one with --ack",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if ack != "" {
				if err := e.ledger.AcknowledgeAlert(cmd.Context(), ack); err != nil {
					return err
				}
				fmt.Printf("Alert %s acknowledged.\n", ack)
				return nil
			}

			alerts, err := e.ledger.ListAlerts(cmd.Context(), !all, 0)
			if err != nil {
				return err
			}
			if len(alerts) == 0 {
				fmt.Println("No alerts.")
				return nil
			}
			for _, a := range alerts {
				state := "open"
				if a.Acknowledged {
					state = "acked"
				}
				fmt.Printf("%s  %s  [%s] %-8s %s\n",
					a.CreatedAt.Format("2006-01-02 15:04:05"), a.ID[:8], a.Severity, state, a.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include acknowledged alerts")
	cmd.Flags().StringVar(&ack, "ack", "", "acknowledge the alert with this id")
	return cmd
}

func newLedgerListCmd() *cobra.Command {
	var limit, offset int
	var source, eventType, sortBy string
	var desc bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List evidence records",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.ledger.List(cmd.Context(), ledger.ListOpts{
				Limit:     limit,
				Offset:    offset,
				SortBy:    sortBy,
				SortDesc:  desc,
				Source:    ledger.Source(source),
				EventType: eventType,
			})
			if err != nil {
				return err
			}

			for _, r := range result.Records {
				payload := string(r.Payload)
				if len(payload) > 60 {
					payload = payload[:60] + "…"
				}
				fmt.Printf("%s  %s  %-16s  %-18s  %s\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.ID[:8], r.Source, r.EventType, payload)
			}
			for _, f := range result.Failures {
				fmt.Printf("!! record %s unreadable under current key: %v\n", f.RecordID, f.Err)
			}
			if len(result.Records) == 0 && len(result.Failures) == 0 {
				fmt.Println("Ledger is empty.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&sortBy, "sort", "timestamp", "sort column (timestamp, source, event_type, id)")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

func newLedgerVerifyCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify chain integrity of the whole ledger (or one record)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			var violations []ledger.Violation
			if id != "" {
				violations, err = e.ledger.VerifyRecord(cmd.Context(), id)
			} else {
				violations, err = e.ledger.VerifyChain(cmd.Context())
			}
			if err != nil {
				return err
			}

			if len(violations) == 0 {
				fmt.Println("Chain intact: no violations.")
				return nil
			}
			fmt.Printf("%d violation(s):\n", len(violations))
			for _, v := range violations {
				fmt.Println("  " + v.String())
				if _, err := e.ledger.RaiseAlert(cmd.Context(), "critical", v.Kind, v.RecordID, "", v.String()); err != nil {
					return err
				}
			}
			// Violations are findings, not a command failure.
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "verify only this record")
	return cmd
}

func newLedgerSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <terms...>",
		Short: "Full-text search over evidence payloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.ledger.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(result.Records) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, r := range result.Records {
				fmt.Printf("%s  %s  %-18s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.ID[:8], r.EventType)
			}
			return nil
		},
	}
}
