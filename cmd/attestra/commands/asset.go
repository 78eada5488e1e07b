package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/attestra/attestra/internal/registry"
)

func newAssetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Manage monitored high-trust assets",
	}
	cmd.AddCommand(
		newAssetAddCmd(),
		newAssetListCmd(),
		newAssetVerifyCmd(),
		newAssetAcceptCmd(),
		newAssetEnableCmd(true),
		newAssetEnableCmd(false),
		newAssetLogCmd(),
	)
	return cmd
}

func newAssetAddCmd() *cobra.Command {
	var sensitivity, name string

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a file or directory for integrity monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("inspecting %s: %w", args[0], err)
			}
			typ := registry.TypeFile
			if info.IsDir() {
				typ = registry.TypeDirectory
			}

			sens := registry.Sensitivity(sensitivity)
			switch sens {
			case registry.SensitivityNormal, registry.SensitivityStrict, registry.SensitivityCritical:
			default:
				return fmt.Errorf("invalid sensitivity %q (normal, strict, critical)", sensitivity)
			}

			a, err := e.reg.Add(cmd.Context(), args[0], typ, sens, name)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s asset %s (%s)\n", a.Type, a.ID, a.Path)
			fmt.Println("State is unverified until you run: attestra asset verify", a.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sensitivity, "sensitivity", "normal", "normal, strict, or critical")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to base name)")
	return cmd
}

func newAssetListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitored assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			assets, err := e.reg.List(cmd.Context(), !all)
			if err != nil {
				return err
			}
			if len(assets) == 0 {
				fmt.Println("No assets registered.")
				return nil
			}
			for _, a := range assets {
				enabled := ""
				if !a.Enabled {
					enabled = " (disabled)"
				}
				fmt.Printf("%s  %-10s  score %3d  %-8s  %s%s\n",
					a.ID, a.TrustState, a.TrustScore, a.Sensitivity, a.Path, enabled)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include disabled assets")
	return cmd
}

func newAssetVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Re-hash an asset and establish (or confirm) its trusted baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			// A mismatch found here must leave the same trail as one found
			// by the daemon: penalty, change log, evidence record, alert.
			mon, _, err := buildMonitor(e)
			if err != nil {
				return err
			}
			defer func() { _ = mon.Close() }()

			updated, err := mon.VerifyAsset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if updated.TrustState == registry.StateChanged {
				fmt.Printf("Asset %s DIFFERS from its trusted baseline (state changed, score %d).\n",
					updated.ID, updated.TrustScore)
				fmt.Println("Review the change, then: attestra asset accept", updated.ID)
				return nil
			}
			fmt.Printf("Asset %s verified. Baseline %s\n", updated.ID, updated.VerifiedHash[:16])
			return nil
		},
	}
}

func newAssetAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept the current content as the new trusted baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			mon, _, err := buildMonitor(e)
			if err != nil {
				return err
			}
			defer func() { _ = mon.Close() }()

			updated, err := mon.AcceptChanges(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Changes accepted. Asset %s re-baselined at %s\n", updated.ID, updated.VerifiedHash[:16])
			return nil
		},
	}
}

func newAssetEnableCmd(enable bool) *cobra.Command {
	verb, short := "enable", "Resume monitoring an asset"
	if !enable {
		verb, short = "disable", "Pause monitoring an asset (assets are never deleted)"
	}
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.reg.SetEnabled(cmd.Context(), args[0], enable); err != nil {
				return err
			}
			fmt.Printf("Asset %s %sd.\n", args[0], verb)
			return nil
		},
	}
}

func newAssetLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Show an asset's change log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			events, err := e.reg.Changes(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No changes recorded.")
				return nil
			}
			for _, ev := range events {
				fmt.Printf("%s  %-18s  %s → %s  %s\n",
					ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Kind, ev.StateBefore, ev.StateAfter, ev.Path)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}
