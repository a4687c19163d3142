package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"colonywars/internal/ledger"
)

func TestClientSendsCallerAndDecodes(t *testing.T) {
	colony := ledger.NameID("colony", "alpha")
	var gotCaller, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = r.Header.Get(callerHeader)
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ledger.ColonyWarProfile{Colony: colony, Owner: "alice", DefensiveStake: 1500})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "alice")
	p, err := c.Reinforce(context.Background(), colony, 500)
	if err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	if gotCaller != "alice" {
		t.Fatalf("caller header = %q", gotCaller)
	}
	if gotPath != "/v1/colonies/"+colony.String()+"/reinforce" {
		t.Fatalf("path = %q", gotPath)
	}
	if amount, _ := gotBody["amount"].(float64); amount != 500 {
		t.Fatalf("body = %v", gotBody)
	}
	if p.Colony != colony || p.DefensiveStake != 1500 {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"caller is not the alliance leader"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "bob").DisbandAlliance(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "caller is not the alliance leader" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !IsAPIError(err) {
		t.Fatalf("IsAPIError should match")
	}
}

func TestNetworkErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "bob").Season(context.Background())
	if err == nil {
		t.Fatalf("expected a network error")
	}
	if IsAPIError(err) {
		t.Fatalf("network failure reported as API error: %v", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := LoadProfile(); !errors.Is(err, ErrNoProfile) {
		t.Fatalf("expected ErrNoProfile, got %v", err)
	}
	colony := ledger.NameID("colony", "alpha")
	if err := SaveProfile(Profile{Address: "  Alice ", PrimaryColony: colony}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := LoadProfile()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Address != "alice" || p.PrimaryColony != colony {
		t.Fatalf("unexpected profile %+v", p)
	}
	if err := ClearProfile(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadProfile(); !errors.Is(err, ErrNoProfile) {
		t.Fatalf("profile survived clear: %v", err)
	}
	if err := SaveProfile(Profile{}); err == nil {
		t.Fatalf("empty address should be rejected")
	}
}

func TestResolveID(t *testing.T) {
	id := ledger.NameID("colony", "alpha")
	got, err := ResolveID("colony", id.String())
	if err != nil || got != id {
		t.Fatalf("hex id = %s, %v", got, err)
	}
	got, err = ResolveID("colony", "Alpha")
	if err != nil || got != id {
		t.Fatalf("named id = %s, %v", got, err)
	}
	if _, err := ResolveID("colony", " "); err == nil {
		t.Fatalf("blank id should be rejected")
	}
}
