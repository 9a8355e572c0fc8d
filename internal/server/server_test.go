package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wavetp/kgraph/internal/config"
	"github.com/wavetp/kgraph/internal/engine"
	"github.com/wavetp/kgraph/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	eng := engine.New(db, config.Default().Retention)
	return New(db, eng, "test")
}

// get issues a GET against the handler and decodes the JSON body.
func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: bad body %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body
}

// post issues a POST with a JSON payload and decodes the JSON body.
func post(t *testing.T, s *Server, path string, payload any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("POST %s: bad body %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	s := testServer(t)

	code, body := get(t, s, "/api/kg/_health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["ok"] != true {
		t.Errorf("ok = %v", body["ok"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v", body["db"])
	}
}

func TestUnknownRoute(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/kg/nope", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
