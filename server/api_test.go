package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bmpow/pow"
)

const testToken = "test-token"

func newTestServer(t *testing.T) (*httptest.Server, *JobPool) {
	t.Helper()

	log := discardLogger()
	hub := NewHub(log)
	pool := NewJobPool(testPowConfig(), log, hub)
	api := NewAPIServer(context.Background(), pool, hub, log, testToken, serverOptions{})

	ts := httptest.NewServer(api.routes())
	t.Cleanup(ts.Close)
	return ts, pool
}

// doJSON issues an authenticated request with a JSON body and decodes the
// response into out.
func doJSON(t *testing.T, ts *httptest.Server, method, path string, body, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp
}

func zeroDigestHex() string {
	return hex.EncodeToString(make([]byte, pow.HashSize))
}

func TestAuthMiddleware(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no token", ""},
		{"wrong token", "Bearer wrong"},
		{"malformed header", testToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/stats", nil)
			if err != nil {
				t.Fatalf("Failed to build request: %v", err)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("Expected 503 for bad auth, got %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Expected the generic HTML page, got content type %q", ct)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	ts, pool := newTestServer(t)

	var out searchResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/search", searchRequest{
		Target:      math.MaxUint64,
		InitialHash: zeroDigestHex(),
		Workers:     2,
		MaxNonce:    1000,
	}, &out)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if out.Status != pow.StatusOK {
		t.Errorf("Expected status %d, got %d", pow.StatusOK, out.Status)
	}
	if !pow.Verify(out.Nonce, math.MaxUint64, make([]byte, pow.HashSize)) {
		t.Errorf("Returned nonce %d does not verify", out.Nonce)
	}
	if out.Hashes == 0 {
		t.Error("Expected a non-zero hash count")
	}

	// Synchronous searches count into the pool's lifetime totals.
	if got := pool.Stats().TotalHashes; got == 0 {
		t.Error("Expected the search to contribute to total hashes")
	}
}

func TestHandleSearchBadHash(t *testing.T) {
	ts, _ := newTestServer(t)

	var out errorResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/search", searchRequest{
		Target:      math.MaxUint64,
		InitialHash: "not-hex",
		Workers:     1,
	}, &out)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if out.Status != pow.StatusBadInput {
		t.Errorf("Expected status %d, got %d", pow.StatusBadInput, out.Status)
	}
}

func TestHandleSearchOverflow(t *testing.T) {
	ts, _ := newTestServer(t)

	var out errorResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/search", searchRequest{
		Target:      0,
		InitialHash: zeroDigestHex(),
		Workers:     2,
		MaxNonce:    1,
	}, &out)

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for an exhausted search, got %d", resp.StatusCode)
	}
	if out.Status != pow.StatusOverflow {
		t.Errorf("Expected status %d, got %d", pow.StatusOverflow, out.Status)
	}
}

func TestHandleSearchMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/api/search", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestJobLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	var submitted JobView
	resp := doJSON(t, ts, http.MethodPost, "/api/jobs", searchRequest{
		Target:      math.MaxUint64,
		InitialHash: zeroDigestHex(),
		Workers:     2,
		MaxNonce:    1000,
	}, &submitted)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	if submitted.ID == "" {
		t.Fatal("Expected a job id")
	}

	deadline := time.Now().Add(10 * time.Second)
	var view JobView
	for time.Now().Before(deadline) {
		resp := doJSON(t, ts, http.MethodGet, "/api/jobs?id="+submitted.ID, nil, &view)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200 polling job, got %d", resp.StatusCode)
		}
		if view.State == JobDone || view.State == JobFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if view.State != JobDone {
		t.Fatalf("Expected job done, got %s (error %q)", view.State, view.Error)
	}
	if !pow.Verify(view.Nonce, math.MaxUint64, make([]byte, pow.HashSize)) {
		t.Errorf("Job nonce %d does not verify", view.Nonce)
	}
}

func TestJobStatusUnknown(t *testing.T) {
	ts, _ := newTestServer(t)

	var out errorResponse
	resp := doJSON(t, ts, http.MethodGet, "/api/jobs?id=no-such-job", nil, &out)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	if out.Status != pow.StatusBadInput {
		t.Errorf("Expected status %d, got %d", pow.StatusBadInput, out.Status)
	}
}

func TestJobStatusMissingID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/api/jobs", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without an id, got %d", resp.StatusCode)
	}
}

func TestHandleVerify(t *testing.T) {
	ts, _ := newTestServer(t)

	digest := make([]byte, pow.HashSize)
	nonce, err := pow.Search(2, math.MaxUint64, digest, 1000)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	tests := []struct {
		name  string
		req   verifyRequest
		valid bool
	}{
		{"valid nonce", verifyRequest{Nonce: nonce, Target: math.MaxUint64, InitialHash: zeroDigestHex()}, true},
		{"impossible target", verifyRequest{Nonce: nonce, Target: 0, InitialHash: zeroDigestHex()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out verifyResponse
			resp := doJSON(t, ts, http.MethodPost, "/api/verify", tt.req, &out)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			if out.Valid != tt.valid {
				t.Errorf("Expected valid=%v, got %v", tt.valid, out.Valid)
			}
		})
	}
}

func TestHandleStats(t *testing.T) {
	ts, _ := newTestServer(t)

	var out PoolStats
	resp := doJSON(t, ts, http.MethodGet, "/api/stats", nil, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if out.TotalJobs != 0 {
		t.Errorf("Expected an empty pool, got %d total jobs", out.TotalJobs)
	}
}

func TestHandleIndex(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 at /, got %d", resp.StatusCode)
	}

	resp404, err := ts.Client().Get(fmt.Sprintf("%s/nope", ts.URL))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown path, got %d", resp404.StatusCode)
	}
}
