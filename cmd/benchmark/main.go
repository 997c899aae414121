// Benchmark tool for testing Kestrel against labelled applicant data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/applicants.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a CSV of applicants (fact columns plus an "eligible" label)
//   2. Sends each applicant to Kestrel for a decision
//   3. Compares Kestrel's verdict (any eligible product) with the label
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Every column except "eligible" is sent as a fact keyed by its header,
// so the CSV must use the tenant's configured parameter names.
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
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Applicant represents a row from the input dataset
type Applicant struct {
	Facts      map[string]string
	IsEligible bool
}

// DecideRequest is the Kestrel API request format
type DecideRequest struct {
	RequestID string            `json:"requestId,omitempty"`
	Facts     map[string]string `json:"facts"`
}

// DecideResponse is the subset of the Kestrel response the benchmark needs
type DecideResponse struct {
	RequestID           string   `json:"requestId"`
	CustomerScore       float64  `json:"customerScore"`
	EligibleProducts    []any    `json:"eligibleProducts"`
	NonEligibleProducts []any    `json:"nonEligibleProducts"`
	MandatoryParameters []string `json:"mandatoryParameters"`
	Message             string   `json:"message"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Eligible applicant approved
	FalsePositives int64 // Ineligible applicant approved
	TrueNegatives  int64 // Ineligible applicant declined
	FalseNegatives int64 // Eligible applicant declined

	TotalProcessed  int64
	TotalEligible   int64
	TotalIneligible int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to applicant CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum applicants to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each applicant result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/applicants.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Eligibility Decisions             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read applicant data
	fmt.Printf("\nReading applicant data from %s...\n", *csvPath)
	applicants, err := readApplicantCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d applicants\n", len(applicants))

	// Count eligible vs ineligible
	eligibleCount := 0
	for _, a := range applicants {
		if a.IsEligible {
			eligibleCount++
		}
	}
	fmt.Printf("  - Eligible:   %d (%.2f%%)\n", eligibleCount, 100*float64(eligibleCount)/float64(len(applicants)))
	fmt.Printf("  - Ineligible: %d (%.2f%%)\n", len(applicants)-eligibleCount, 100*float64(len(applicants)-eligibleCount)/float64(len(applicants)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(applicants, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

func readApplicantCSV(path string, limit int) ([]Applicant, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	labelCol := -1
	for i, col := range header {
		if strings.EqualFold(col, "eligible") {
			labelCol = i
		}
	}
	if labelCol < 0 {
		return nil, fmt.Errorf("CSV has no 'eligible' label column")
	}

	var applicants []Applicant

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		facts := make(map[string]string, len(header)-1)
		for i, col := range header {
			if i == labelCol || i >= len(record) {
				continue
			}
			if v := strings.TrimSpace(record[i]); v != "" {
				facts[col] = v
			}
		}

		applicants = append(applicants, Applicant{
			Facts:      facts,
			IsEligible: record[labelCol] == "1" || strings.EqualFold(record[labelCol], "true"),
		})

		if limit > 0 && len(applicants) >= limit {
			break
		}
	}

	return applicants, nil
}

func runBenchmark(applicants []Applicant, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Applicant, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for a := range work {
				start := time.Now()
				result, err := decideApplicant(client, baseURL, tenantID, a)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v -> %v\n", a.Facts, err)
					}
					continue
				}

				// Track actual labels
				if a.IsEligible {
					atomic.AddInt64(&metrics.TotalEligible, 1)
				} else {
					atomic.AddInt64(&metrics.TotalIneligible, 1)
				}

				// Calculate confusion matrix
				predicted := len(result.EligibleProducts) > 0
				actual := a.IsEligible

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
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s Score: %6.2f | Products: %d | Expected: %-5v | Message: %s\n",
						status,
						result.CustomerScore,
						len(result.EligibleProducts),
						a.IsEligible,
						result.Message,
					)
				}
			}
		}()
	}

	// Send work
	for _, a := range applicants {
		work <- a
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func decideApplicant(client *http.Client, baseURL, tenantID string, a Applicant) (*DecideResponse, error) {
	req := DecideRequest{Facts: a.Facts}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/decide/enriched", bytes.NewReader(body))
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

	var result DecideResponse
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
	fmt.Printf("   Total Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Total Eligible:    %d\n", m.TotalEligible)
	fmt.Printf("   Total Ineligible:  %d\n", m.TotalIneligible)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  APPROVE     DECLINE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  E  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NE  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
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

	fmt.Printf("\n🎯 DECISION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of approvals, how many should have been approved)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of eligible applicants, how many were approved)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct decisions)\n", accuracy)

	// Decision rate analysis
	fmt.Printf("\n🔍 DECISION ANALYSIS\n")
	if m.TotalEligible > 0 {
		approveRate := float64(m.TruePositives) / float64(m.TotalEligible) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalEligible) * 100
		fmt.Printf("   Correctly Approved:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalEligible, approveRate)
		fmt.Printf("   Wrongly Declined:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalEligible, missRate)
	}
	if m.TotalIneligible > 0 {
		leakRate := float64(m.FalsePositives) / float64(m.TotalIneligible) * 100
		fmt.Printf("   Wrongly Approved:    %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalIneligible, leakRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f decisions/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - approving nearly all eligible applicants")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but declining some eligible applicants")
	} else {
		fmt.Println("   ❌ Poor recall - many eligible applicants declined")
	}

	if precision >= 0.9 {
		fmt.Println("   ✅ High precision - approvals match the labels")
	} else if precision >= 0.5 {
		fmt.Println("   ⚠️  Moderate precision - some ineligible applicants approved")
	} else {
		fmt.Println("   ❌ Very low precision - mostly wrong approvals")
	}

	fmt.Println()
}
