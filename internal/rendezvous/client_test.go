package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestPollOnceFiltersSelfAndSkipsBadEntries covers scenario S6's
// self-filter and skip-on-parse-failure behavior in one pass.
func TestPollOnceFiltersSelfAndSkipsBadEntries(t *testing.T) {
	selfKeyB64 := "c2VsZg=="

	entries := []entry{
		{PublicKeyB64: selfKeyB64, DisplayName: "me", Addresses: []string{"127.0.0.1:1"}},
		{PublicKeyB64: "not-valid-base64!!", DisplayName: "broken", Addresses: nil},
		{PublicKeyB64: "cGVlcg==", DisplayName: "peer-one", Addresses: []string{"127.0.0.1:2"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(entries)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-room", nil)
	out := make(chan Discovery, 8)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.pollOnce(ctx, selfKeyB64, out)
	close(out)

	var got []Discovery
	for d := range out {
		got = append(got, d)
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 non-self, parseable discovery, got %d", len(got))
	}
	if got[0].Info.DisplayName != "peer-one" {
		t.Fatalf("unexpected discovery: %+v", got[0])
	}
}
