package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atmx/dsc-engine/internal/position"
)

func TestFetchAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/accounts/alice":
			w.Write([]byte(`{"user_id":"alice","collateral":{"WETH":"10"},"debt":"100","health_factor":"0.9","debt_to_cover":"40"}`))
		case "/api/v1/accounts/bob":
			w.Write([]byte(`{"user_id":"bob","collateral":{},"debt":"0","health_factor":"unconstrained","debt_to_cover":"0"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
		}
	}))
	defer srv.Close()

	acct, err := fetchAccount(context.Background(), srv.Client(), srv.URL+"/", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := summarize(acct)
	if st.Status != "liquidatable" || st.HealthFactor != "0.9" || st.DebtToCover != "40" {
		t.Errorf("unexpected summary: %+v", st)
	}

	acct, err = fetchAccount(context.Background(), srv.Client(), srv.URL, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := summarize(acct); st.Status != "no_debt" || st.DebtToCover != "" {
		t.Errorf("unexpected summary: %+v", st)
	}

	_, err = fetchAccount(context.Background(), srv.Client(), srv.URL, "carol")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected server error, got %v", err)
	}
}

func TestHealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	healthHandler(position.NewWSHub())(w, httptest.NewRequest("GET", "/health", nil))

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["ws_clients"] != float64(0) {
		t.Errorf("unexpected health body: %v", body)
	}
}
