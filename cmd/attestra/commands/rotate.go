package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRotateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt the evidence ledger under fresh key material",
		Long: `Generates new key material (optionally derived from a passphrase),
re-encrypts every evidence record under it, and persists the new
material — all in one transaction. If any record cannot be decrypted
with the current key the rotation aborts and nothing changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			pass, err := promptPassphrase(true)
			if err != nil {
				return err
			}

			n, err := e.ledger.Count(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.ledger.RotateKey(cmd.Context(), pass); err != nil {
				return err
			}
			fmt.Printf("Rotated key material; %d record(s) re-encrypted.\n", n)
			return nil
		},
	}
}
