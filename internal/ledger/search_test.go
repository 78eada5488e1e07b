package ledger

import (
	"context"
	"testing"
)

func TestFTSQueryQuotesTerms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"modified", `"modified"`},
		{"sshd config", `"sshd" "config"`},
		{`term"with"quotes`, `"term""with""quotes"`},
		{"NOT OR-operators*", `"NOT" "OR-operators*"`},
	}
	for _, c := range cases {
		if got := ftsQuery(c.in); got != c.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSearchFindsPayloadContent(t *testing.T) {
	s := newTestStore(t)
	want := appendRecord(t, s, "asset-modified", []byte(`{"path":"/etc/nginx/nginx.conf"}`))
	appendRecord(t, s, "asset-deleted", []byte(`{"path":"/tmp/scratch"}`))

	result, err := s.Search(context.Background(), "nginx")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d results, want 1", len(result.Records))
	}
	if result.Records[0].ID != want.ID {
		t.Errorf("matched %s, want %s", result.Records[0].ID, want.ID)
	}
}

func TestSearchReturnsDecryptedPayload(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("unique-marker-payload")
	appendRecord(t, s, "event", payload)

	result, err := s.Search(context.Background(), "unique-marker-payload")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 1 || string(result.Records[0].Payload) != string(payload) {
		t.Errorf("result = %+v, want decrypted payload back", result)
	}
}

func TestSearchOperatorInputIsLiteral(t *testing.T) {
	s := newTestStore(t)
	appendRecord(t, s, "event", []byte("plain payload"))

	// FTS5 operator syntax in user input must not be interpreted.
	for _, q := range []string{`pay"load`, `payload*`, `(payload OR`, `payload NEAR`, `-payload`} {
		if _, err := s.Search(context.Background(), q); err != nil {
			t.Errorf("Search(%q) errored: %v", q, err)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	appendRecord(t, s, "event", []byte("payload"))

	result, err := s.Search(context.Background(), "   ")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 0 {
		t.Errorf("blank query returned %d records, want 0", len(result.Records))
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	s := newTestStoreWithConfig(t, Config{SearchLimit: 3})
	for i := 0; i < 6; i++ {
		appendRecord(t, s, "event", []byte("common-term"))
	}

	result, err := s.Search(context.Background(), "common-term")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Records) != 3 {
		t.Errorf("got %d results, want limit 3", len(result.Records))
	}
}
