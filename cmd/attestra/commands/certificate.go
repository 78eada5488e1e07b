package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/attestra/attestra/internal/ledger"
	"github.com/attestra/attestra/internal/registry"
	"github.com/attestra/attestra/internal/safefile"
)

func newCertificateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Generate and list trust certificates",
	}
	cmd.AddCommand(newCertificateGenerateCmd(), newCertificateListCmd())
	return cmd
}

func newCertificateGenerateCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Snapshot the ledger into a signed trust certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			assets, err := e.reg.List(cmd.Context(), true)
			if err != nil {
				return err
			}
			score := averageTrustScore(assets)

			if out == "" {
				out = e.cfg.DataDir
			}
			cert, err := e.ledger.GenerateCertificate(cmd.Context(), score, &jsonRenderer{dir: out})
			if err != nil {
				return err
			}

			fmt.Printf("Certificate %s\n", cert.ID)
			fmt.Printf("  Score:    %d (%s)\n", cert.Score, cert.Level)
			fmt.Printf("  Evidence: %d record(s)\n", cert.EvidenceCount)
			fmt.Printf("  Chain:    %s\n", cert.ChainValue)
			if cert.ArtifactPath != "" {
				fmt.Printf("  Artifact: %s\n", cert.ArtifactPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "directory for the rendered artifact (default: data dir)")
	return cmd
}

func newCertificateListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List previously generated certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			certs, err := e.ledger.ListCertificates(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(certs) == 0 {
				fmt.Println("No certificates generated yet.")
				return nil
			}
			for _, c := range certs {
				fmt.Printf("%s  %s  score %3d (%s)  %d record(s)\n",
					c.GeneratedAt.Format("2006-01-02 15:04:05"), c.ID[:8], c.Score, c.Level, c.EvidenceCount)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum certificates")
	return cmd
}

// jsonRenderer writes the certificate and the hashes of its evidence
// records to a JSON file in dir.
type jsonRenderer struct {
	dir string
}

func (r *jsonRenderer) Render(cert ledger.Certificate, records []ledger.Record) (string, error) {
	type entry struct {
		ID        string `json:"id"`
		Hash      string `json:"hash"`
		EventType string `json:"event_type"`
	}
	doc := struct {
		Certificate ledger.Certificate `json:"certificate"`
		Evidence    []entry            `json:"evidence"`
	}{Certificate: cert}
	for _, rec := range records {
		doc.Evidence = append(doc.Evidence, entry{ID: rec.ID, Hash: rec.Hash, EventType: rec.EventType})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding certificate: %w", err)
	}
	path := filepath.Join(r.dir, "certificate-"+cert.ID+".json")
	if err := safefile.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// averageTrustScore rolls the per-asset scores into one ledger-wide
// score. An empty registry scores 100: nothing monitored, nothing wrong.
func averageTrustScore(assets []registry.Asset) int {
	if len(assets) == 0 {
		return 100
	}
	sum := 0
	for _, a := range assets {
		sum += a.TrustScore
	}
	return sum / len(assets)
}
