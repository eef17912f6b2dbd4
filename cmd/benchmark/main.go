// Benchmark tool for testing CallGuard against labeled call transcripts.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/calls.csv -url http://localhost:8080
//
// The CSV needs a "transcript" column and an "is_scam" column (1/0);
// optional columns: "caller_number", "language", "duration_seconds".
//
// This tool:
//   1. Reads labeled call transcripts
//   2. Sends each transcript to CallGuard for analysis
//   3. Compares CallGuard's verdict (scam vs safe) with the actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledCall represents a row from the benchmark dataset.
type LabeledCall struct {
	Transcript   string
	CallerNumber string
	Language     string
	Duration     float64
	IsScam       bool
}

// AnalyzeRequest is the CallGuard API request format.
type AnalyzeRequest struct {
	Transcript   string  `json:"transcript"`
	Language     string  `json:"language,omitempty"`
	CallerNumber string  `json:"callerNumber,omitempty"`
	Duration     float64 `json:"durationSeconds,omitempty"`
}

// AnalyzeResponse is the CallGuard API response format.
type AnalyzeResponse struct {
	AnalysisID string `json:"analysisId"`
	Result     struct {
		Classification string  `json:"classification"`
		RiskScore      float64 `json:"riskScore"`
		RiskBand       string  `json:"riskBand"`
	} `json:"result"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Scam classified as non-safe
	FalsePositives int64 // Legitimate call classified as non-safe
	TrueNegatives  int64 // Legitimate call classified as safe
	FalseNegatives int64 // Scam classified as safe (missed!)

	TotalProcessed int64
	TotalScam      int64
	TotalLegit     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled calls CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "CallGuard base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum calls to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	scamOnly := flag.Bool("scam-only", false, "Only test scam calls")
	verbose := flag.Bool("verbose", false, "Print each call result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/calls.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        CALLGUARD BENCHMARK - Scam Call Detection              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:      %s\n", *csvPath)
	fmt.Printf("CallGuard URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:     %s\n", *tenantID)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Limit:         %d\n", *limit)
	fmt.Printf("Scam Only:     %v\n", *scamOnly)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: CallGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure CallGuard is running:")
		fmt.Println("  go run cmd/callguard/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ CallGuard is healthy")

	fmt.Printf("\nReading labeled calls from %s...\n", *csvPath)
	calls, err := readCallsCSV(*csvPath, *limit, *scamOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d calls\n", len(calls))

	scamCount := 0
	for _, c := range calls {
		if c.IsScam {
			scamCount++
		}
	}
	fmt.Printf("  - Scam:       %d (%.2f%%)\n", scamCount, 100*float64(scamCount)/float64(len(calls)))
	fmt.Printf("  - Legitimate: %d (%.2f%%)\n", len(calls)-scamCount, 100*float64(len(calls)-scamCount)/float64(len(calls)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(calls, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCallsCSV(path string, limit int, scamOnly bool) ([]LabeledCall, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	if _, ok := colIndex["transcript"]; !ok {
		return nil, fmt.Errorf("CSV missing required 'transcript' column")
	}
	if _, ok := colIndex["is_scam"]; !ok {
		return nil, fmt.Errorf("CSV missing required 'is_scam' column")
	}

	col := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var calls []LabeledCall
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isScam := col(record, "is_scam") == "1"
		if scamOnly && !isScam {
			continue
		}

		duration, _ := strconv.ParseFloat(col(record, "duration_seconds"), 64)

		calls = append(calls, LabeledCall{
			Transcript:   col(record, "transcript"),
			CallerNumber: col(record, "caller_number"),
			Language:     col(record, "language"),
			Duration:     duration,
			IsScam:       isScam,
		})

		if limit > 0 && len(calls) >= limit {
			break
		}
	}

	return calls, nil
}

func runBenchmark(calls []LabeledCall, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledCall, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for call := range work {
				start := time.Now()
				result, err := analyzeCall(client, baseURL, tenantID, call)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				if call.IsScam {
					atomic.AddInt64(&metrics.TotalScam, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				}

				predicted := result.Result.Classification != "safe"
				actual := call.IsScam

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					excerpt := call.Transcript
					if len(excerpt) > 40 {
						excerpt = excerpt[:40]
					}
					fmt.Printf("%s %-40s | Scam: %-5v | Verdict: %-10s (%.0f, %s)\n",
						status,
						excerpt,
						call.IsScam,
						result.Result.Classification,
						result.Result.RiskScore,
						result.Result.RiskBand,
					)
				}
			}
		}()
	}

	for _, call := range calls {
		work <- call
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeCall(client *http.Client, baseURL, tenantID string, call LabeledCall) (*AnalyzeResponse, error) {
	req := AnalyzeRequest{
		Transcript:   call.Transcript,
		Language:     call.Language,
		CallerNumber: call.CallerNumber,
		Duration:     call.Duration,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze/text", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Scam:       %d\n", m.TotalScam)
	fmt.Printf("   Total Legit:      %d\n", m.TotalLegit)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    SCAM        SAFE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged calls, how many were actual scams)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of scams, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalScam > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalScam) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalScam) * 100
		fmt.Printf("   Scams Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalScam, detectionRate)
		fmt.Printf("   Scams Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalScam, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f calls/sec\n", cps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most scams")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some scams")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant scams being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most scams are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
