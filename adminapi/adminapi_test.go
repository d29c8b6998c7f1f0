package adminapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nabbar/edgeproxy/adminapi"
	"github.com/nabbar/edgeproxy/reconfig"
)

func TestPostDeltaAppliesListener(t *testing.T) {
	applier := reconfig.NewApplier(nil)
	h := adminapi.New(applier, nil)

	body, _ := json.Marshal(map[string]any{
		"kind":     "AddListener",
		"listener": map[string]any{"addr": "0.0.0.0:8080", "proto": "plain"},
	})

	req := httptest.NewRequest(http.MethodPost, "/deltas", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(applier.Snapshot().Listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(applier.Snapshot().Listeners))
	}
}

func TestPostDeltaRejectsInvalidKind(t *testing.T) {
	applier := reconfig.NewApplier(nil)
	h := adminapi.New(applier, nil)

	body, _ := json.Marshal(map[string]any{"kind": ""})
	req := httptest.NewRequest(http.MethodPost, "/deltas", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetStatusReportsGeneration(t *testing.T) {
	applier := reconfig.NewApplier(nil)
	h := adminapi.New(applier, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["generation"]; !ok {
		t.Fatal("expected generation field in status response")
	}
}
