package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/localh0ste/piiguard/internal/config"
	"github.com/localh0ste/piiguard/internal/logger"
	"github.com/localh0ste/piiguard/internal/pii"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()

	detector, err := pii.New(config.DetectorConfig{
		Enabled: true,
		Rules:   []string{"all"},
	}, &logger.Logger{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	return NewPipeline(detector, nil, nil, &Config{
		BatchSize:      10,
		WorkerCount:    2,
		ProgressReport: 0,
	}, zap.NewNop())
}

func writeInputCSV(t *testing.T, dir string, rows [][2]string) string {
	t.Helper()

	path := filepath.Join(dir, "input.csv")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create input file: %v", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"record_id", "data_json"}); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	for _, row := range rows {
		if err := w.Write([]string{row[0], row[1]}); err != nil {
			t.Fatalf("Failed to write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("Failed to flush input file: %v", err)
	}
	return path
}

func readOutputCSV(t *testing.T, path string) [][]string {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open output file: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}
	return rows
}

func TestProcessFile_CSV(t *testing.T) {
	pipeline := newTestPipeline(t)
	dir := t.TempDir()

	input := writeInputCSV(t, dir, [][2]string{
		{"r1", `{"phone":"9876543210","order_id":"A-42"}`},
		{"r2", `{"name":"Jane Doe","email":"jane@x.com"}`},
		{"r3", `{"name":"Madonna","amount":12.5}`},
	})
	output := filepath.Join(dir, "output.csv")

	result, err := pipeline.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", result.TotalRecords)
	}
	if result.ProcessedOK != 3 {
		t.Errorf("ProcessedOK = %d, want 3", result.ProcessedOK)
	}
	if result.PIIRecords != 2 {
		t.Errorf("PIIRecords = %d, want 2", result.PIIRecords)
	}

	rows := readOutputCSV(t, output)
	if len(rows) != 4 { // header + 3 rows
		t.Fatalf("Output has %d rows, want 4", len(rows))
	}
	if rows[0][0] != "record_id" || rows[0][2] != "is_pii" {
		t.Errorf("Unexpected header: %v", rows[0])
	}

	// Output order matches input order
	if rows[1][0] != "r1" || rows[2][0] != "r2" || rows[3][0] != "r3" {
		t.Errorf("Output order broken: %v %v %v", rows[1][0], rows[2][0], rows[3][0])
	}

	if rows[1][2] != "true" {
		t.Errorf("r1 verdict = %v, want true", rows[1][2])
	}
	if rows[3][2] != "false" {
		t.Errorf("r3 verdict = %v, want false", rows[3][2])
	}

	var redacted map[string]any
	if err := json.Unmarshal([]byte(rows[1][1]), &redacted); err != nil {
		t.Fatalf("Redacted payload is not valid JSON: %v", err)
	}
	if redacted["phone"] != "98XXXXXX10" {
		t.Errorf("phone = %v, want 98XXXXXX10", redacted["phone"])
	}
	if redacted["order_id"] != "A-42" {
		t.Errorf("order_id changed: %v", redacted["order_id"])
	}
}

func TestProcessFile_MalformedRowsSkipped(t *testing.T) {
	pipeline := newTestPipeline(t)
	dir := t.TempDir()

	input := writeInputCSV(t, dir, [][2]string{
		{"r1", `{"phone":"9876543210"}`},
		{"r2", `{not json`},
		{"r3", `{"name":"Jane Doe","ip_address":"10.0.0.1"}`},
	})
	output := filepath.Join(dir, "output.csv")

	result, err := pipeline.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.ProcessedOK != 2 {
		t.Errorf("ProcessedOK = %d, want 2", result.ProcessedOK)
	}
	if result.ProcessedFailed != 1 {
		t.Errorf("ProcessedFailed = %d, want 1", result.ProcessedFailed)
	}

	rows := readOutputCSV(t, output)
	if len(rows) != 3 { // header + 2 valid rows
		t.Fatalf("Output has %d rows, want 3", len(rows))
	}
	if rows[1][0] != "r1" || rows[2][0] != "r3" {
		t.Errorf("Unexpected output rows: %v, %v", rows[1][0], rows[2][0])
	}
}

func TestProcessFile_JSONLines(t *testing.T) {
	pipeline := newTestPipeline(t)
	dir := t.TempDir()

	input := filepath.Join(dir, "input.jsonl")
	content := `{"record_id":"r1","data_json":"{\"aadhar\":\"1234 5678 9012\"}"}` + "\n" +
		`{"record_id":"r2","data_json":"{\"order_id\":\"A-1\"}"}` + "\n"
	if err := os.WriteFile(input, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}

	output := filepath.Join(dir, "output.jsonl")
	result, err := pipeline.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.ProcessedOK != 2 {
		t.Errorf("ProcessedOK = %d, want 2", result.ProcessedOK)
	}
	if result.PIIRecords != 1 {
		t.Errorf("PIIRecords = %d, want 1", result.PIIRecords)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}

	var first OutputRecord
	if err := json.Unmarshal([]byte(splitLines(string(data))[0]), &first); err != nil {
		t.Fatalf("Output line is not valid JSON: %v", err)
	}
	if first.RecordID != "r1" || !first.IsPII {
		t.Errorf("Unexpected first output row: %+v", first)
	}

	var redacted map[string]any
	if err := json.Unmarshal([]byte(first.RedactedJSON), &redacted); err != nil {
		t.Fatalf("Redacted payload is not valid JSON: %v", err)
	}
	if redacted["aadhar"] != "1234 XXXX 9012" {
		t.Errorf("aadhar = %v, want 1234 XXXX 9012", redacted["aadhar"])
	}
}

func TestProcessFile_DryRun(t *testing.T) {
	detector, err := pii.New(config.DetectorConfig{
		Enabled: true,
		Rules:   []string{"all"},
	}, &logger.Logger{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	pipeline := NewPipeline(detector, nil, nil, &Config{
		BatchSize:   10,
		WorkerCount: 2,
		DryRun:      true,
	}, zap.NewNop())

	dir := t.TempDir()
	input := writeInputCSV(t, dir, [][2]string{
		{"r1", `{"phone":"9876543210"}`},
	})
	output := filepath.Join(dir, "output.csv")

	result, err := pipeline.ProcessFile(context.Background(), input, output)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if result.ProcessedOK != 1 {
		t.Errorf("ProcessedOK = %d, want 1", result.ProcessedOK)
	}

	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("Dry run should not create the output file")
	}
}

func TestProcessFile_Cancellation(t *testing.T) {
	pipeline := newTestPipeline(t)
	dir := t.TempDir()

	input := writeInputCSV(t, dir, [][2]string{
		{"r1", `{"phone":"9876543210"}`},
	})
	output := filepath.Join(dir, "output.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pipeline.ProcessFile(ctx, input, output); err == nil {
		t.Error("Expected error from cancelled context")
	}
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		path string
		want FileFormat
	}{
		{"records.csv", FormatCSV},
		{"records.parquet", FormatParquet},
		{"records.json", FormatJSON},
		{"records.jsonl", FormatJSON},
		{"records", FormatCSV},
	}

	for _, tt := range tests {
		if got := DetectFileFormat(tt.path); got != tt.want {
			t.Errorf("DetectFileFormat(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// splitLines splits output content on newlines, dropping empty elements.
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
