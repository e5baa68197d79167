package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/localh0ste/piiguard/internal/config"
	"github.com/localh0ste/piiguard/internal/logger"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	log := &logger.Logger{Logger: zap.NewNop()}

	s, err := New(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func postScan(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/scan", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleScan(t *testing.T) {
	s := newTestServer(t)

	t.Run("PIIRecord", func(t *testing.T) {
		rec := postScan(t, s, `{"record_id":"r1","data":{"phone":"9876543210","order_id":"A-17"}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp ScanResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.RecordID != "r1" {
			t.Errorf("Expected record_id r1, got %q", resp.RecordID)
		}
		if !resp.IsPII {
			t.Error("Expected is_pii to be true")
		}
		if len(resp.Fields) != 1 || resp.Fields[0] != "phone" {
			t.Errorf("Expected fields [phone], got %v", resp.Fields)
		}
		if got := resp.Data["phone"]; got != "98XXXXXX10" {
			t.Errorf("Expected redacted phone 98XXXXXX10, got %v", got)
		}
		if got := resp.Data["order_id"]; got != "A-17" {
			t.Errorf("Expected order_id untouched, got %v", got)
		}
	})

	t.Run("CleanRecord", func(t *testing.T) {
		rec := postScan(t, s, `{"record_id":"r2","data":{"name":"Madonna","order_id":"A-18"}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}

		var resp ScanResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.IsPII {
			t.Error("Expected is_pii to be false")
		}
		if len(resp.Fields) != 0 {
			t.Errorf("Expected no flagged fields, got %v", resp.Fields)
		}
		if got := resp.Data["name"]; got != "Madonna" {
			t.Errorf("Expected name untouched, got %v", got)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rec := postScan(t, s, `{"record_id":`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("MissingData", func(t *testing.T) {
		rec := postScan(t, s, `{"record_id":"r3"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("Expected healthy status, got %s", rec.Body.String())
	}
}

func TestHandleInfo(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var info map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Failed to decode info: %v", err)
	}
	if info["name"] != "piiguard" {
		t.Errorf("Expected name piiguard, got %v", info["name"])
	}
	if info["detector_enabled"] != true {
		t.Error("Expected detector_enabled to be true")
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := newIPRateLimiter(60)

	for i := 0; i < 60; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("Request %d unexpectedly denied", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("Expected request beyond burst to be denied")
	}

	// Other clients have their own bucket
	if !limiter.Allow("10.0.0.2") {
		t.Error("Expected fresh client to be allowed")
	}
}
