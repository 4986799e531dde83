package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	confirmPct  float64
)

// Metrics
var (
	totalRequests uint64
	allocated     uint64 // 201 Created
	noChannel     uint64 // 404 no eligible channel
	conflicts     uint64 // 409
	rateLimited   uint64 // 429
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | large")
	flag.Float64Var(&confirmPct, "confirm", 0.5, "Fraction of allocated deposits to confirm immediately")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		amount := generateAmount()

		payload := map[string]interface{}{"amount": amount}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/deposits", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&allocated, 1)
			maybeConfirm(client, resp, amount)
		case 404:
			atomic.AddUint64(&noChannel, 1)
		case 409:
			atomic.AddUint64(&conflicts, 1)
		case 429:
			atomic.AddUint64(&rateLimited, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func maybeConfirm(client *http.Client, resp *http.Response, amount float64) {
	if rand.Float64() >= confirmPct {
		return
	}

	var result struct {
		Deposit struct {
			ID int64 `json:"id"`
		} `json:"deposit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Deposit.ID == 0 {
		return
	}

	body, _ := json.Marshal(map[string]interface{}{"amount": amount})
	url := fmt.Sprintf("%s/api/v1/deposits/%d/confirm", targetURL, result.Deposit.ID)
	req, _ := http.NewRequest("POST", url, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	confirmResp, err := client.Do(req)
	if err != nil {
		return
	}
	confirmResp.Body.Close()
}

func generateAmount() float64 {
	if workload == "large" {
		// Large amounts exhaust requisites quickly and surface the
		// no-eligible-channel path.
		return float64(10000 + rand.Intn(40000))
	}
	return float64(100 + rand.Intn(4900))
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&allocated)
	miss := atomic.LoadUint64(&noChannel)
	conf := atomic.LoadUint64(&conflicts)
	limited := atomic.LoadUint64(&rateLimited)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var conflictRate float64
	if total > 0 {
		conflictRate = float64(conf) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"allocated":         ok,
		"no_channel":        miss,
		"conflicts":         conf,
		"conflict_rate_pct": conflictRate,
		"rate_limited":      limited,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
