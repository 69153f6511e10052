package dealdesksdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsAuthAndDecodes(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/negotiations/n-1/escrow/fund":
			_, _ = w.Write([]byte(`{"id":"n-1","status":"ESCROW_FUNDED","escrow":{"expected_amount":"240","funded_amount":"240","remaining":"0"}}`))
		case "/v1/negotiations/n-1/revisions/diff":
			_, _ = w.Write([]byte(`{"base":1,"target":2,"segments":[],"summary":{"modified":1},"fingerprint":"abc"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	n, err := c.FundEscrow(context.Background(), "n-1", "240")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/v1/negotiations/n-1/escrow/fund" || gotBody["amount"] != "240" {
		t.Fatalf("unexpected request auth=%q path=%q body=%v", gotAuth, gotPath, gotBody)
	}
	if n.Status != "ESCROW_FUNDED" || n.Escrow == nil || n.Escrow.Remaining != "0" {
		t.Fatalf("unexpected negotiation %+v", n)
	}

	d, err := c.DiffRevisions(context.Background(), "n-1", 1, 2)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if gotQuery != "base=1&target=2" || d.Summary.Modified != 1 || d.Fingerprint != "abc" {
		t.Fatalf("unexpected diff %+v (query %q)", d, gotQuery)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Actor-Id") != "buyer-1" {
			t.Errorf("expected actor header, got %q", r.Header.Get("X-Actor-Id"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"INVALID_TRANSITION","message":"invalid negotiation status transition COMPLETED -> CANCELLED"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	c.ActorID = "buyer-1"
	_, err := c.Cancel(context.Background(), "n-1", "changed my mind")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "INVALID_TRANSITION" || apiErr.Message == "" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
