package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attestra/attestra/internal/registry"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize asset trust, ledger size, and open alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()

			assets, err := e.reg.List(ctx, false)
			if err != nil {
				return err
			}
			byState := map[registry.TrustState]int{}
			enabled := 0
			for _, a := range assets {
				byState[a.TrustState]++
				if a.Enabled {
					enabled++
				}
			}

			records, err := e.ledger.Count(ctx)
			if err != nil {
				return err
			}
			footprint, err := e.ledger.Footprint(ctx)
			if err != nil {
				return err
			}
			alerts, err := e.ledger.ListAlerts(ctx, true, 0)
			if err != nil {
				return err
			}

			fmt.Printf("Assets:     %d (%d enabled)\n", len(assets), enabled)
			fmt.Printf("  verified:   %d\n", byState[registry.StateVerified])
			fmt.Printf("  unverified: %d\n", byState[registry.StateUnverified])
			fmt.Printf("  changed:    %d\n", byState[registry.StateChanged])
			fmt.Printf("Trust score: %d\n", averageTrustScore(assets))
			fmt.Printf("Ledger:     %d record(s), %.1f MB of %d MB quota\n",
				records, float64(footprint)/(1<<20), e.cfg.Ledger.QuotaMB)

			if len(alerts) == 0 {
				fmt.Println("Alerts:     none open")
				return nil
			}
			fmt.Printf("Alerts:     %d open\n", len(alerts))
			for _, a := range alerts {
				fmt.Printf("  [%s] %s  %s\n", a.Severity, a.CreatedAt.Format("2006-01-02 15:04"), a.Message)
			}
			return nil
		},
	}
}
