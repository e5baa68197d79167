package batch

import (
	"strings"
	"time"
)

// InputRecord represents a single row from the input container: an opaque
// record identifier plus the serialized field mapping.
type InputRecord struct {
	RecordID string `csv:"record_id" parquet:"record_id" json:"record_id"`
	DataJSON string `csv:"data_json" parquet:"data_json" json:"data_json"`
}

// OutputRecord represents a single row of the output container
type OutputRecord struct {
	RecordID     string `csv:"record_id" parquet:"record_id" json:"record_id"`
	RedactedJSON string `csv:"redacted_data_json" parquet:"redacted_data_json" json:"redacted_data_json"`
	IsPII        bool   `csv:"is_pii" parquet:"is_pii" json:"is_pii"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	PIIRecords      int64         `json:"pii_records"`
	CacheHits       int64         `json:"cache_hits"`
	Duration        time.Duration `json:"duration"`
	ScanTime        time.Duration `json:"scan_time"`
	DatabaseTime    time.Duration `json:"database_time"`
	CacheTime       time.Duration `json:"cache_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	WorkerCount    int     `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`           // records/sec, 0 = unlimited
	ProgressReport int     `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	DryRun         bool    `yaml:"dry_run" mapstructure:"dry_run"`
	UpdateCache    bool    `yaml:"update_cache" mapstructure:"update_cache"`
	UpdateStore    bool    `yaml:"update_store" mapstructure:"update_store"`
	Source         string  `yaml:"source" mapstructure:"source"`
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime       time.Time `json:"start_time"`
	RecordsRead     int64     `json:"records_read"`
	RecordsScanned  int64     `json:"records_scanned"`
	RecordsSkipped  int64     `json:"records_skipped"`
	DetectionsFound int64     `json:"detections_found"`
	DatabaseWrites  int64     `json:"database_writes"`
	CacheWrites     int64     `json:"cache_writes"`
}

// FileFormat represents supported container formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects the container format from the file extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".json") || strings.HasSuffix(filename, ".jsonl"):
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}
