package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "attestra",
		Short: "Tamper-evident trust monitoring for high-value files",
		Long:  "Attestra — Encrypted evidence ledger and asset integrity monitor. Proves what changed, when, and that nothing was altered after the fact. Single binary, local-first.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "attestra.yaml", "config file path")

	root.AddCommand(
		newInitCmd(),
		newAssetCmd(),
		newWatchCmd(),
		newLedgerCmd(),
		newRotateKeyCmd(),
		newCertificateCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}
