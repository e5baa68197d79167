package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/localh0ste/piiguard/internal/cache"
	"github.com/localh0ste/piiguard/internal/pii"
	"github.com/localh0ste/piiguard/internal/store"
	"github.com/localh0ste/piiguard/internal/websocket"
	"go.uber.org/zap"
)

// ScanRequest is the payload for POST /v1/scan
type ScanRequest struct {
	RecordID string         `json:"record_id"`
	Data     map[string]any `json:"data"`
}

// ScanResponse is the result of scanning a single record
type ScanResponse struct {
	RecordID string         `json:"record_id"`
	Data     map[string]any `json:"data"`
	IsPII    bool           `json:"is_pii"`
	Fields   []string       `json:"fields,omitempty"`
	Cached   bool           `json:"cached,omitempty"`
}

// handleScan classifies and redacts a single record
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)
	start := time.Now()

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Data == nil {
		writeError(w, http.StatusBadRequest, "missing data object")
		return
	}

	// Serve from the verdict cache when the exact payload was seen before
	var recordHash string
	if s.verdictCache != nil {
		recordHash = cache.HashRecord(req.Data)
		if lookup, err := s.verdictCache.Lookup(r.Context(), recordHash); err == nil && lookup.CacheHit {
			resp := ScanResponse{
				RecordID: req.RecordID,
				Data:     lookup.Verdict.Redacted,
				IsPII:    lookup.Verdict.IsPII,
				Fields:   lookup.Verdict.Fields,
				Cached:   true,
			}
			if resp.IsPII {
				s.recordDetection()
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	result := s.detector.Process(pii.Record(req.Data))

	if result.IsPII {
		s.recordDetection()
	}
	log.LogScan(req.RecordID, result.IsPII, result.Fields, "api")

	if s.auditStore != nil {
		if recordHash == "" {
			recordHash = cache.HashRecord(req.Data)
		}
		auditErr := s.auditStore.Insert(r.Context(), &store.ScanResult{
			RecordID:      req.RecordID,
			RecordHash:    recordHash,
			IsPII:         result.IsPII,
			FlaggedFields: result.Fields,
			Source:        "api",
		})
		if auditErr != nil {
			log.Warn("Failed to record scan result", zap.Error(auditErr))
		}
	}

	if s.verdictCache != nil {
		cacheErr := s.verdictCache.Store(r.Context(), &cache.CachedVerdict{
			RecordHash: recordHash,
			Redacted:   result.Redacted,
			Fields:     result.Fields,
			IsPII:      result.IsPII,
			CachedAt:   time.Now(),
		})
		if cacheErr != nil {
			log.Warn("Failed to cache verdict", zap.Error(cacheErr))
		}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypePIIDetection,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.PIIDetectionEvent{
			RequestID:    requestID,
			RecordID:     req.RecordID,
			Source:       "api",
			ClientIP:     getClientIP(r),
			Fields:       result.Fields,
			TotalFields:  len(result.Fields),
			IsPII:        result.IsPII,
			ProcessingMS: float64(time.Since(start).Nanoseconds()) / 1e6,
		},
	})

	writeJSON(w, http.StatusOK, ScanResponse{
		RecordID: req.RecordID,
		Data:     result.Redacted,
		IsPII:    result.IsPII,
		Fields:   result.Fields,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":             "piiguard",
		"version":          "0.1.0",
		"detector_enabled": s.config.Detector.Enabled,
		"rules":            s.detector.GetEnabledRules(),
		"store_enabled":    s.config.Store.Enabled,
		"cache_enabled":    s.config.Cache.Enabled,
	})
}

// handleStats reports server, store, cache and hub statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hubStats := s.wsHub.GetStats()

	stats := map[string]any{
		"uptime":            time.Since(s.startTime).Round(time.Second).String(),
		"total_requests":    atomic.LoadInt64(&s.totalRequests),
		"total_detections":  atomic.LoadInt64(&s.totalDetections),
		"connected_clients": hubStats.ActiveConnections,
	}

	if s.auditStore != nil {
		if storeStats, err := s.auditStore.GetStats(r.Context()); err == nil {
			stats["store"] = storeStats
		} else {
			s.logger.Warn("Failed to fetch store stats", zap.Error(err))
		}
	}

	if s.verdictCache != nil {
		if cacheStats, err := s.verdictCache.GetStats(r.Context()); err == nil {
			stats["cache"] = cacheStats
		} else {
			s.logger.Warn("Failed to fetch cache stats", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
