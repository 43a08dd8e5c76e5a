package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

// testEnv is a running API server backed by a fresh database and config file.
type testEnv struct {
	server     *Server
	http       *httptest.Server
	cm         *ConfigManager
	actionChan chan string
	dir        string
	apiKey     string // sent in the ngr-auth header when set
}

// setupTestServer creates a server with seeded models and starts it with httptest.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cm.SetLogger(logger)

	cfg := cm.Get()
	cfg.Server.DataDir = dir
	cfg.Server.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Model.Seed = 42
	if err = cm.Update(cfg); err != nil {
		t.Fatalf("cm.Update() error = %v", err)
	}

	db, err := initDB(cfg.Server.DatabasePath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = setupSchemas(db); err != nil {
		t.Fatalf("failed to set up schemas: %v", err)
	}

	actionChan := make(chan string, 1)
	server, err := NewServer(cm, logger, db, actionChan)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Close)

	ts := httptest.NewServer(server.apiMux)
	t.Cleanup(ts.Close)

	return &testEnv{server: server, http: ts, cm: cm, actionChan: actionChan, dir: dir}
}

// do sends a request with an optional JSON body and decodes a JSON response into out.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if e.apiKey != "" {
		req.Header.Set(authHeader, e.apiKey)
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// createModel builds an inline model and fails the test unless it was created.
func (e *testEnv) createModel(t *testing.T, name string, order int, text string) ModelInfo {
	t.Helper()
	var info ModelInfo
	code := e.do(t, http.MethodPost, "/api/models", CreateModelRequest{Name: name, Order: order, Text: text}, &info)
	if code != http.StatusCreated {
		t.Fatalf("POST /api/models returned %d, want %d", code, http.StatusCreated)
	}
	return info
}
