package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/attestra/attestra/internal/config"
	"github.com/attestra/attestra/internal/hashing"
	"github.com/attestra/attestra/internal/keymanager"
	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/registry"
)

// env bundles the opened stores a command needs. Close releases them.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	ledger *ledger.Store
	keys   *keymanager.Manager
	reg    *registry.Store
	hasher *hashing.Hasher
}

func (e *env) Close() {
	if e.reg != nil {
		_ = e.reg.Close()
	}
	if e.ledger != nil {
		_ = e.ledger.Close()
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s (run `attestra init` first?): %w", cfgFile, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))
	return cfg, logger, nil
}

// openEnv opens both stores with derived keys ready.
func openEnv(passphrase []byte) (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, err
	}
	keys, err := keymanager.Open(ledger.NewKeyStore(db), passphrase, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ledgerStore := ledger.NewStore(db, keys, ledger.Config{
		QuotaBytes:  cfg.Ledger.QuotaMB << 20,
		PruneBatch:  cfg.Ledger.PruneBatch,
		SearchLimit: cfg.Ledger.SearchLimit,
	}, logger)

	hasher := hashing.New(
		time.Duration(cfg.Monitor.FileTimeoutSec)*time.Second,
		hashing.DirectoryOpts{
			MaxFiles:       cfg.Monitor.DirMaxFiles,
			Budget:         time.Duration(cfg.Monitor.DirBudgetSec) * time.Second,
			PerFileTimeout: time.Duration(cfg.Monitor.PerFileTimeout) * time.Second,
		},
		logger,
	)
	reg, err := registry.NewStore(cfg.AssetsPath(), hasher, logger)
	if err != nil {
		_ = ledgerStore.Close()
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, ledger: ledgerStore, keys: keys, reg: reg, hasher: hasher}, nil
}

// promptPassphrase reads a hidden passphrase from the terminal.
// Returns nil (use random key material) on empty input.
func promptPassphrase(confirm bool) ([]byte, error) {
	fmt.Fprint(os.Stderr, "Passphrase (empty for random key): ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(pass) == 0 {
		return nil, nil
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		if string(pass) != string(again) {
			return nil, fmt.Errorf("passphrases do not match")
		}
	}
	return pass, nil
}
