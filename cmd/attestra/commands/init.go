package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/attestra/attestra/internal/config"
	"github.com/attestra/attestra/internal/safefile"
)

func newInitCmd() *cobra.Command {
	var withPassphrase bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file, data directory, and key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgFile); err == nil {
				return fmt.Errorf("%s already exists", cfgFile)
			}

			cfg := config.Defaults()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			if err := safefile.WriteFileAtomic(cfgFile, data, 0o644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}

			var passphrase []byte
			if withPassphrase {
				passphrase, err = promptPassphrase(true)
				if err != nil {
					return err
				}
			}

			// Opening the environment generates and persists key material.
			e, err := openEnv(passphrase)
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Printf("Initialized: config %s, data dir %s\n", cfgFile, cfg.DataDir)
			fmt.Println("Next: attestra asset add <path> --sensitivity critical")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withPassphrase, "passphrase", false, "derive keys from a passphrase instead of random material")
	return cmd
}
