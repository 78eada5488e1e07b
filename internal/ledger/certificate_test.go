package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestCertificateLevel(t *testing.T) {
	cases := map[int]string{
		100: "high",
		90:  "high",
		89:  "medium",
		60:  "medium",
		59:  "low",
		0:   "low",
	}
	for score, want := range cases {
		if got := CertificateLevel(score); got != want {
			t.Errorf("CertificateLevel(%d) = %q, want %q", score, got, want)
		}
	}
}

func TestGenerateCertificate(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		appendRecord(t, s, "event", []byte{byte(i)})
	}

	cert, err := s.GenerateCertificate(context.Background(), 95, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cert.Score != 95 || cert.Level != "high" {
		t.Errorf("score/level = %d/%s", cert.Score, cert.Level)
	}
	if cert.EvidenceCount != 3 {
		t.Errorf("EvidenceCount = %d, want 3", cert.EvidenceCount)
	}
	if cert.ChainValue == "" {
		t.Error("ChainValue empty")
	}

	// Same ledger contents produce the same chain value.
	again, err := s.GenerateCertificate(context.Background(), 95, nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.ChainValue != cert.ChainValue {
		t.Error("chain value should be deterministic over unchanged evidence")
	}

	// New evidence changes it.
	appendRecord(t, s, "event", []byte("more"))
	changed, err := s.GenerateCertificate(context.Background(), 95, nil)
	if err != nil {
		t.Fatal(err)
	}
	if changed.ChainValue == cert.ChainValue {
		t.Error("chain value should change with new evidence")
	}
}

func TestGenerateCertificateClampsScore(t *testing.T) {
	s := newTestStore(t)

	cert, err := s.GenerateCertificate(context.Background(), 140, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cert.Score != 100 {
		t.Errorf("score = %d, want clamped 100", cert.Score)
	}

	cert, err = s.GenerateCertificate(context.Background(), -5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cert.Score != 0 {
		t.Errorf("score = %d, want clamped 0", cert.Score)
	}
}

type stubRenderer struct {
	path string
	err  error
}

func (r *stubRenderer) Render(Certificate, []Record) (string, error) { return r.path, r.err }

func TestGenerateCertificateRendererFailureTolerated(t *testing.T) {
	s := newTestStore(t)
	appendRecord(t, s, "event", []byte("x"))

	cert, err := s.GenerateCertificate(context.Background(), 80, &stubRenderer{err: errors.New("disk full")})
	if err != nil {
		t.Fatalf("renderer failure should not fail generation: %v", err)
	}
	if cert.ArtifactPath != "" {
		t.Errorf("artifact path = %q, want empty on render failure", cert.ArtifactPath)
	}

	cert, err = s.GenerateCertificate(context.Background(), 80, &stubRenderer{path: "/tmp/cert.json"})
	if err != nil {
		t.Fatal(err)
	}
	if cert.ArtifactPath != "/tmp/cert.json" {
		t.Errorf("artifact path = %q", cert.ArtifactPath)
	}
}

func TestListCertificates(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GenerateCertificate(context.Background(), 70, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GenerateCertificate(context.Background(), 85, nil); err != nil {
		t.Fatal(err)
	}

	certs, err := s.ListCertificates(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Errorf("got %d certificates, want 2", len(certs))
	}
}
