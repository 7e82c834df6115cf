package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestHealthReportsPageType(t *testing.T) {
	server := httptest.NewServer(NewRouter(WithPageType("upsell")))
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
	if payload["page_type"] != "upsell" {
		t.Fatalf("expected page_type upsell, got %v", payload["page_type"])
	}
	if payload["engine"] != "checkout" {
		t.Fatalf("expected engine checkout, got %v", payload["engine"])
	}
}
