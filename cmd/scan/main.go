package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/localh0ste/piiguard/internal/batch"
	"github.com/localh0ste/piiguard/internal/cache"
	"github.com/localh0ste/piiguard/internal/config"
	"github.com/localh0ste/piiguard/internal/logger"
	"github.com/localh0ste/piiguard/internal/pii"
	"github.com/localh0ste/piiguard/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile = flag.String("output", "", "Output file for redacted records (defaults to <input>.redacted)")
		batchSize  = flag.Int("batch-size", 0, "Batch size for processing (0 = use config)")
		workers    = flag.Int("workers", 0, "Number of worker goroutines (0 = use config)")
		skipCache  = flag.Bool("skip-cache", false, "Skip the Redis verdict cache")
		skipStore  = flag.Bool("skip-store", false, "Skip writing scan results to Postgres")
		dryRun     = flag.Bool("dry-run", false, "Scan and report only, write no output")
		clearCache = flag.Bool("clear-cache", false, "Clear the verdict cache and exit")
		showStats  = flag.Bool("stats", false, "Show audit store statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*clearCache && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input records.csv --output records.redacted.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input records.jsonl --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input records.parquet --dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PII Guard batch scan",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// Initialize services
	services, err := initializeServices(cfg, *skipCache, *skipStore, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	// Handle different operations
	switch {
	case *showStats:
		if err := showStoreStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
	case *clearCache:
		if err := clearVerdictCache(ctx, services, log); err != nil {
			log.Fatal("Failed to clear cache", zap.Error(err))
		}
	default:
		batchConfig := &batch.Config{
			BatchSize:      cfg.Batch.BatchSize,
			WorkerCount:    cfg.Batch.WorkerCount,
			RateLimit:      cfg.Batch.RateLimit,
			ProgressReport: cfg.Batch.ProgressReport,
			DryRun:         *dryRun,
			UpdateCache:    services.verdictCache != nil,
			UpdateStore:    services.auditStore != nil,
			Source:         "batch",
		}
		if *batchSize > 0 {
			batchConfig.BatchSize = *batchSize
		}
		if *workers > 0 {
			batchConfig.WorkerCount = *workers
		}

		output := *outputFile
		if output == "" && !*dryRun {
			output = defaultOutputPath(*inputFile)
		}

		if err := processDataset(ctx, services, batchConfig, *inputFile, output, log); err != nil {
			log.Fatal("Batch scan failed", zap.Error(err))
		}
	}

	log.Info("Batch scan completed successfully")
}

// defaultOutputPath derives the output path from the input, keeping the
// extension so the output container uses the same format:
// records.csv -> records.redacted.csv. Parquet input falls back to CSV
// output, the only tabular format the writer produces.
func defaultOutputPath(inputFile string) string {
	ext := filepath.Ext(inputFile)
	base := strings.TrimSuffix(inputFile, ext)
	if ext == ".parquet" || ext == "" {
		ext = ".csv"
	}
	return base + ".redacted" + ext
}

// services holds all initialized services
type services struct {
	detector     *pii.Detector
	auditStore   *store.Store
	verdictCache *cache.VerdictCache
}

func (s *services) cleanup() {
	if s.auditStore != nil {
		s.auditStore.Close()
	}
	if s.verdictCache != nil {
		s.verdictCache.Close()
	}
}

// initializeServices initializes the detector and optional backends
func initializeServices(cfg *config.Config, skipCache, skipStore bool, log *logger.Logger) (*services, error) {
	services := &services{}

	detector, err := pii.New(cfg.Detector, log.WithComponent("pii"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize detector: %w", err)
	}
	services.detector = detector

	if cfg.Store.Enabled && !skipStore {
		log.Info("Initializing audit store...")
		auditStore, err := store.NewStore(&store.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		services.auditStore = auditStore
	}

	if cfg.Cache.Enabled && !skipCache {
		log.Info("Initializing verdict cache...")
		verdictCache, err := cache.NewVerdictCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize verdict cache: %w", err)
		}
		services.verdictCache = verdictCache
	}

	return services, nil
}

// processDataset scans the input dataset file and writes redacted output
func processDataset(ctx context.Context, services *services, batchConfig *batch.Config, inputFile, outputFile string, log *logger.Logger) error {
	log.Info("Processing dataset",
		zap.String("input", inputFile),
		zap.String("output", outputFile),
		zap.Bool("dry_run", batchConfig.DryRun))

	// Check if file exists
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	pipeline := batch.NewPipeline(
		services.detector,
		services.auditStore,
		services.verdictCache,
		batchConfig,
		log.Logger,
	)

	result, err := pipeline.ProcessFile(ctx, inputFile, outputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	log.Info("Dataset processing completed",
		zap.String("input", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("pii_records", result.PIIRecords),
		zap.Int64("cache_hits", result.CacheHits),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("scan_time", result.ScanTime),
		zap.Duration("database_time", result.DatabaseTime),
		zap.Duration("cache_time", result.CacheTime),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return nil
}

// showStoreStats displays audit store statistics
func showStoreStats(ctx context.Context, services *services) error {
	if services.auditStore == nil {
		return fmt.Errorf("audit store is not enabled")
	}

	stats, err := services.auditStore.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get store stats: %w", err)
	}

	fmt.Printf("\n=== PII Guard Audit Store Statistics ===\n")
	fmt.Printf("Total Records:      %d\n", stats.TotalRecords)
	fmt.Printf("PII Records:        %d (%.1f%%)\n", stats.PIICount, stats.PIIRate)
	fmt.Printf("Clean Records:      %d\n", stats.CleanCount)

	if services.verdictCache != nil {
		cacheStats, err := services.verdictCache.GetStats(ctx)
		if err == nil {
			fmt.Printf("\n=== Cache Statistics ===\n")
			fmt.Printf("Cache Hits:         %d\n", cacheStats.Hits)
			fmt.Printf("Cache Misses:       %d\n", cacheStats.Misses)
			fmt.Printf("Hit Rate:           %.1f%%\n", cacheStats.HitRate)
			fmt.Printf("Total Keys:         %d\n", cacheStats.TotalKeys)
			fmt.Printf("Memory Usage:       %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
		}
	}

	return nil
}

// clearVerdictCache clears all cached verdicts
func clearVerdictCache(ctx context.Context, services *services, log *logger.Logger) error {
	if services.verdictCache == nil {
		return fmt.Errorf("verdict cache is not enabled")
	}

	log.Info("Clearing verdict cache...")
	if err := services.verdictCache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	log.Info("Verdict cache cleared")
	return nil
}
