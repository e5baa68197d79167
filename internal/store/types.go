package store

import (
	"time"

	"github.com/lib/pq"
)

// ScanResult represents one audited scan verdict
type ScanResult struct {
	ID            int64          `db:"id" json:"id"`
	RecordID      string         `db:"record_id" json:"record_id"`
	RecordHash    string         `db:"record_hash" json:"record_hash"`
	IsPII         bool           `db:"is_pii" json:"is_pii"`
	FlaggedFields pq.StringArray `db:"flagged_fields" json:"flagged_fields"`
	Source        string         `db:"source" json:"source"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ScanStats represents audit store statistics
type ScanStats struct {
	TotalRecords int64   `json:"total_records"`
	PIICount     int64   `json:"pii_count"`
	CleanCount   int64   `json:"clean_count"`
	PIIRate      float64 `json:"pii_rate"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"errors,omitempty"`
}
