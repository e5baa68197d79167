package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store persists scan verdicts to PostgreSQL for audit and reporting. Only
// verdicts and flagged field names are stored; raw or redacted field values
// never leave the pipeline.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

const createTableQuery = `
	CREATE TABLE IF NOT EXISTS scan_results (
		id             BIGSERIAL PRIMARY KEY,
		record_id      TEXT NOT NULL,
		record_hash    TEXT NOT NULL UNIQUE,
		is_pii         BOOLEAN NOT NULL,
		flagged_fields TEXT[] NOT NULL DEFAULT '{}',
		source         TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// NewStore creates a new audit store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the database connection and ensures the results table
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create scan_results table: %w", err)
	}

	return nil
}

// Insert adds a single scan result
func (s *Store) Insert(ctx context.Context, result *ScanResult) error {
	query := `
		INSERT INTO scan_results (record_id, record_hash, is_pii, flagged_fields, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record_hash) DO NOTHING
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		result.RecordID,
		result.RecordHash,
		result.IsPII,
		pq.Array([]string(result.FlaggedFields)),
		result.Source,
	).Scan(&result.ID, &result.CreatedAt)

	if err == sql.ErrNoRows {
		// Same payload already audited
		s.logger.Debug("Duplicate scan result skipped",
			zap.String("record_id", result.RecordID))
		return nil
	}
	if err != nil {
		s.logger.Error("Failed to insert scan result",
			zap.Error(err),
			zap.String("record_id", result.RecordID))
		return fmt.Errorf("failed to insert scan result: %w", err)
	}

	s.logger.Debug("Scan result inserted",
		zap.Int64("id", result.ID),
		zap.String("record_id", result.RecordID),
		zap.Bool("is_pii", result.IsPII))

	return nil
}

// BatchInsert adds multiple scan results efficiently
func (s *Store) BatchInsert(ctx context.Context, results []*ScanResult) (*BatchInsertResult, error) {
	if len(results) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	batchResult := &BatchInsertResult{}

	// Prepare batch insert
	valueStrings := make([]string, 0, len(results))
	valueArgs := make([]interface{}, 0, len(results)*5)

	for i, result := range results {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		valueArgs = append(valueArgs,
			result.RecordID,
			result.RecordHash,
			result.IsPII,
			pq.Array([]string(result.FlaggedFields)),
			result.Source,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO scan_results (record_id, record_hash, is_pii, flagged_fields, source)
		VALUES %s
		ON CONFLICT (record_hash) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		batchResult.Failed = int64(len(results))
		batchResult.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return batchResult, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(results)) // Assume all inserted
	}

	batchResult.Inserted = inserted
	batchResult.Duration = time.Since(start)
	duplicates := int64(len(results)) - inserted

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", batchResult.Inserted),
		zap.Int64("duplicates_skipped", duplicates),
		zap.Duration("duration", batchResult.Duration))

	return batchResult, nil
}

// GetStats returns audit store statistics
func (s *Store) GetStats(ctx context.Context) (*ScanStats, error) {
	stats := &ScanStats{}

	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN is_pii THEN 1 END) as pii,
			COUNT(CASE WHEN NOT is_pii THEN 1 END) as clean
		FROM scan_results`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRecords,
		&stats.PIICount,
		&stats.CleanCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan stats: %w", err)
	}

	if stats.TotalRecords > 0 {
		stats.PIIRate = float64(stats.PIICount) / float64(stats.TotalRecords) * 100
	}

	return stats, nil
}

// RecentDetections returns the most recent PII-positive results
func (s *Store) RecentDetections(ctx context.Context, limit int) ([]*ScanResult, error) {
	query := `
		SELECT id, record_id, record_hash, is_pii, flagged_fields, source, created_at
		FROM scan_results
		WHERE is_pii
		ORDER BY created_at DESC
		LIMIT $1`

	var results []*ScanResult
	if err := s.db.SelectContext(ctx, &results, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent detections: %w", err)
	}

	return results, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	// Simple masking - replace password with ***
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
