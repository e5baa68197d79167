package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/localh0ste/piiguard/internal/cache"
	"github.com/localh0ste/piiguard/internal/pii"
	"github.com/localh0ste/piiguard/internal/store"
)

// Pipeline runs the batch scan: it reads records from an input container,
// classifies and redacts them through the detector, and writes one output
// row per input row in input order. The audit store and verdict cache are
// optional; a nil store or cache disables that stage.
type Pipeline struct {
	detector *pii.Detector
	store    *store.Store
	cache    *cache.VerdictCache
	config   *Config
	logger   *zap.Logger
	limiter  *rate.Limiter
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// NewPipeline creates a new batch pipeline
func NewPipeline(
	detector *pii.Detector,
	auditStore *store.Store,
	verdictCache *cache.VerdictCache,
	config *Config,
	logger *zap.Logger,
) *Pipeline {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.BatchSize)
	}

	return &Pipeline{
		detector: detector,
		store:    auditStore,
		cache:    verdictCache,
		config:   config,
		logger:   logger,
		limiter:  limiter,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile processes an input container (CSV, Parquet, or JSON Lines) and
// writes the redacted output container.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting batch scan",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	start := time.Now()
	result := &ProcessingResult{}

	// Detect file format
	format := DetectFileFormat(inputPath)
	p.logger.Info("Detected input format", zap.String("format", string(format)))

	// Reset stats
	p.resetStats()

	writer, err := newOutputWriter(outputPath, p.config.DryRun)
	if err != nil {
		return result, fmt.Errorf("failed to open output: %w", err)
	}
	defer writer.Close()

	// Process based on file format
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, inputPath, writer, result)
	case FormatParquet:
		err = p.processParquet(ctx, inputPath, writer, result)
	case FormatJSON:
		err = p.processJSON(ctx, inputPath, writer, result)
	default:
		return result, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	if err := writer.Flush(); err != nil {
		return result, fmt.Errorf("failed to flush output: %w", err)
	}

	result.Duration = time.Since(start)

	p.logger.Info("Batch scan completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("pii_records", result.PIIRecords),
		zap.Int64("cache_hits", result.CacheHits),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("scan_time", result.ScanTime),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// processCSV processes CSV files with a record_id,data_json header
func (p *Pipeline) processCSV(ctx context.Context, filePath string, writer *outputWriter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2 // record_id, data_json

	// Read header
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*InputRecord, error) {
		var batch []*InputRecord

		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV row", zap.Error(err))
				result.ProcessedFailed++
				continue
			}

			if len(row) != 2 {
				p.logger.Warn("Invalid CSV row length", zap.Int("length", len(row)))
				result.ProcessedFailed++
				continue
			}

			batch = append(batch, &InputRecord{
				RecordID: strings.TrimSpace(row[0]),
				DataJSON: row[1],
			})
		}

		return batch, nil
	}, writer, result)
}

// processParquet processes Parquet files
func (p *Pipeline) processParquet(ctx context.Context, filePath string, writer *outputWriter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*InputRecord, error) {
		var batch []*InputRecord

		for len(batch) < p.config.BatchSize {
			var record InputRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet row", zap.Error(err))
				result.ProcessedFailed++
				continue
			}

			batch = append(batch, &record)
		}

		return batch, nil
	}, writer, result)
}

// processJSON processes JSON Lines files (one object per line)
func (p *Pipeline) processJSON(ctx context.Context, filePath string, writer *outputWriter, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*InputRecord, error) {
		var batch []*InputRecord

		for len(batch) < p.config.BatchSize {
			var record InputRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read JSON row", zap.Error(err))
				result.ProcessedFailed++
				continue
			}

			batch = append(batch, &record)
		}

		return batch, nil
	}, writer, result)
}

// processBatches reads, scans, and writes batches until the reader is drained
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*InputRecord, error), writer *outputWriter, result *ProcessingResult) error {
	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) == 0 {
			break // End of file
		}

		if err := p.processBatch(ctx, batch, writer, result); err != nil {
			p.logger.Error("Batch processing failed", zap.Error(err))
			result.ProcessedFailed += int64(len(batch))
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		// Progress reporting
		if p.config.ProgressReport > 0 && result.TotalRecords/int64(p.config.ProgressReport) != (result.TotalRecords-int64(len(batch)))/int64(p.config.ProgressReport) {
			p.reportProgress(result)
		}
	}

	return nil
}

// scanOutcome is the per-row result produced by a worker
type scanOutcome struct {
	output   *OutputRecord
	verdict  *cache.CachedVerdict
	audit    *store.ScanResult
	cacheHit bool
	skipped  bool
}

// processBatch scans a single batch of records across the worker pool. Rows
// are written back in input order regardless of worker scheduling.
func (p *Pipeline) processBatch(ctx context.Context, batch []*InputRecord, writer *outputWriter, result *ProcessingResult) error {
	if len(batch) == 0 {
		return nil
	}

	scanStart := time.Now()
	outcomes := make([]scanOutcome, len(batch))

	workers := p.config.WorkerCount
	if workers < 1 {
		workers = 1
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = p.scanRecord(ctx, batch[i])
			}
		}()
	}

	for i := range batch {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				close(indexes)
				wg.Wait()
				return err
			}
		}
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	result.ScanTime += time.Since(scanStart)

	// Write output rows in input order and collect store/cache updates
	var audits []*store.ScanResult
	var verdicts []*cache.CachedVerdict

	for _, outcome := range outcomes {
		if outcome.skipped {
			result.ProcessedFailed++
			result.TotalRecords++
			continue
		}

		if err := writer.Write(outcome.output); err != nil {
			return fmt.Errorf("failed to write output row: %w", err)
		}

		result.TotalRecords++
		result.ProcessedOK++
		if outcome.output.IsPII {
			result.PIIRecords++
		}
		if outcome.cacheHit {
			result.CacheHits++
		}
		if outcome.audit != nil {
			audits = append(audits, outcome.audit)
		}
		if outcome.verdict != nil {
			verdicts = append(verdicts, outcome.verdict)
		}
	}

	// Persist audit rows
	if p.config.UpdateStore && p.store != nil && !p.config.DryRun && len(audits) > 0 {
		dbStart := time.Now()
		if _, err := p.store.BatchInsert(ctx, audits); err != nil {
			p.logger.Warn("Failed to persist audit batch", zap.Error(err))
		}
		result.DatabaseTime += time.Since(dbStart)
	}

	// Update verdict cache
	if p.config.UpdateCache && p.cache != nil && len(verdicts) > 0 {
		cacheStart := time.Now()
		if err := p.cache.StoreBatch(ctx, verdicts); err != nil {
			p.logger.Warn("Failed to update verdict cache", zap.Error(err))
		}
		result.CacheTime += time.Since(cacheStart)
	}

	p.logger.Debug("Batch processed",
		zap.Int("batch_size", len(batch)),
		zap.Int("audit_rows", len(audits)),
		zap.Int("cached_verdicts", len(verdicts)))

	return nil
}

// scanRecord scans one input row. Malformed payloads are skipped, never
// fatal.
func (p *Pipeline) scanRecord(ctx context.Context, input *InputRecord) scanOutcome {
	var record pii.Record
	if err := json.Unmarshal([]byte(input.DataJSON), &record); err != nil {
		p.logger.Warn("Skipping malformed row",
			zap.String("record_id", input.RecordID),
			zap.Error(err))
		return scanOutcome{skipped: true}
	}

	recordHash := cache.HashRecord(record)

	// Try the verdict cache first
	if p.cache != nil {
		if lookup, err := p.cache.Lookup(ctx, recordHash); err == nil && lookup.CacheHit {
			redactedJSON, err := json.Marshal(lookup.Verdict.Redacted)
			if err == nil {
				return scanOutcome{
					output: &OutputRecord{
						RecordID:     input.RecordID,
						RedactedJSON: string(redactedJSON),
						IsPII:        lookup.Verdict.IsPII,
					},
					cacheHit: true,
				}
			}
		}
	}

	scanResult := p.detector.Process(record)

	redactedJSON, err := json.Marshal(scanResult.Redacted)
	if err != nil {
		p.logger.Warn("Failed to serialize redacted record",
			zap.String("record_id", input.RecordID),
			zap.Error(err))
		return scanOutcome{skipped: true}
	}

	outcome := scanOutcome{
		output: &OutputRecord{
			RecordID:     input.RecordID,
			RedactedJSON: string(redactedJSON),
			IsPII:        scanResult.IsPII,
		},
	}

	if p.config.UpdateStore && p.store != nil {
		outcome.audit = &store.ScanResult{
			RecordID:      input.RecordID,
			RecordHash:    recordHash,
			IsPII:         scanResult.IsPII,
			FlaggedFields: scanResult.Fields,
			Source:        p.config.Source,
		}
	}

	if p.config.UpdateCache && p.cache != nil {
		outcome.verdict = &cache.CachedVerdict{
			RecordHash: recordHash,
			Redacted:   scanResult.Redacted,
			Fields:     scanResult.Fields,
			IsPII:      scanResult.IsPII,
		}
	}

	return outcome
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.stats.StartTime)
	perSec := float64(result.TotalRecords) / elapsed.Seconds()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("pii_records", result.PIIRecords),
		zap.Float64("rate_per_sec", perSec),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Create a copy
	stats := *p.stats
	return &stats
}

// outputWriter writes output rows as CSV or JSON Lines depending on the
// output path extension. In dry-run mode rows are counted but discarded.
type outputWriter struct {
	file    *os.File
	csv     *csv.Writer
	encoder *json.Encoder
	dryRun  bool
}

// newOutputWriter opens the output container and writes the header row for
// CSV output.
func newOutputWriter(outputPath string, dryRun bool) (*outputWriter, error) {
	if dryRun {
		return &outputWriter{dryRun: true}, nil
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}

	w := &outputWriter{file: file}
	if DetectFileFormat(outputPath) == FormatJSON {
		w.encoder = json.NewEncoder(file)
		return w, nil
	}

	w.csv = csv.NewWriter(file)
	if err := w.csv.Write([]string{"record_id", "redacted_data_json", "is_pii"}); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// Write writes a single output row
func (w *outputWriter) Write(record *OutputRecord) error {
	if w.dryRun {
		return nil
	}
	if w.encoder != nil {
		return w.encoder.Encode(record)
	}
	return w.csv.Write([]string{
		record.RecordID,
		record.RedactedJSON,
		strconv.FormatBool(record.IsPII),
	})
}

// Flush flushes buffered rows
func (w *outputWriter) Flush() error {
	if w.dryRun || w.csv == nil {
		return nil
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the output file
func (w *outputWriter) Close() error {
	if w.dryRun {
		return nil
	}
	if w.csv != nil {
		w.csv.Flush()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
