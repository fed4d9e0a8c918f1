// Command loadtest drives GET /api/v1/search with a mix of keyword, typo,
// prefix, placeholder and sorted requests, then reports latency percentiles,
// status codes and per-shape hit counts.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// shape is one kind of request sent by the workers.
type shape struct {
	name   string
	params func(query string) url.Values
}

var shapes = []shape{
	{"keyword", func(q string) url.Values { return url.Values{"q": {q + " "}} }},
	{"prefix", func(q string) url.Values { return url.Values{"q": {q}} }},
	{"typo", func(q string) url.Values { return url.Values{"q": {misspell(q) + " "}} }},
	{"placeholder_sort", func(string) url.Values {
		return url.Values{"sort": {"price:asc"}, "limit": {"20"}}
	}},
	{"geo_sort", func(q string) url.Values {
		return url.Values{"q": {q + " "}, "sort": {"_geoPoint(48.8566,2.3522):asc"}}
	}},
}

var defaultQueries = []string{
	"bakery", "fresh bread", "coffee shop", "paris museum", "lyon market",
	"river bridge", "croissant", "espresso bar", "public library", "harbor",
}

type shapeStats struct {
	requests atomic.Int64
	zeroHits atomic.Int64
}

type stats struct {
	total     atomic.Int64
	failures  atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
	perShape  map[string]*shapeStats
}

func newStats() *stats {
	s := &stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
		perShape:  make(map[string]*shapeStats, len(shapes)),
	}
	for _, sh := range shapes {
		s.perShape[sh.name] = &shapeStats{}
	}
	return s
}

func (s *stats) record(shapeName string, d time.Duration, code int, hits int, err error) {
	s.total.Add(1)
	if err != nil {
		s.failures.Add(1)
		return
	}
	ps := s.perShape[shapeName]
	ps.requests.Add(1)
	if code == http.StatusOK && hits == 0 {
		ps.zeroHits.Add(1)
	}
	if code >= 300 {
		s.failures.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	queryFile := flag.String("queries", "", "file with one query per line (defaults to a built-in list)")
	flag.Parse()

	queries := defaultQueries
	if *queryFile != "" {
		loaded, err := readQueries(*queryFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}

	fmt.Println("=== Bucket Search Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Queries:     %d unique x %d shapes\n", len(queries), len(shapes))
	fmt.Println()

	s := run(*baseURL, *concurrency, *duration, queries)
	report(s, *duration)
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if q := strings.TrimSpace(scanner.Text()); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s contains no queries", path)
	}
	return out, scanner.Err()
}

func run(baseURL string, concurrency int, duration time.Duration, queries []string) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; ctx.Err() == nil; i++ {
				sh := shapes[i%len(shapes)]
				q := queries[(i/len(shapes))%len(queries)]
				target := baseURL + "/api/v1/search?" + sh.params(q).Encode()

				start := time.Now()
				code, hits, err := search(ctx, client, target)
				if ctx.Err() != nil {
					return
				}
				s.record(sh.name, time.Since(start), code, hits, err)
			}
		}(w)
	}
	wg.Wait()
	return s
}

func search(ctx context.Context, client *http.Client, target string) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	var body struct {
		TotalHits int `json:"total_hits"`
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return resp.StatusCode, 0, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, body.TotalHits, nil
}

// misspell swaps two inner letters of the first long word so the typo
// rule has work to do.
func misspell(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		if len(w) >= 5 {
			r := []rune(w)
			r[1], r[2] = r[2], r[1]
			words[i] = string(r)
			break
		}
	}
	return strings.Join(words, " ")
}

func report(s *stats, duration time.Duration) {
	total := s.total.Load()
	failures := s.failures.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Failures:        %d\n", failures)
	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
	fmt.Printf("Failure Rate:    %.2f%%\n", float64(failures)/float64(total)*100)
	fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min: %s\n", latencies[0])
		for _, p := range []int{50, 90, 99} {
			fmt.Printf("P%d: %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max: %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.codes[code])
	}

	fmt.Println()
	fmt.Println("=== Shapes ===")
	for _, sh := range shapes {
		ps := s.perShape[sh.name]
		fmt.Printf("  %-18s requests=%d zero_hits=%d\n", sh.name, ps.requests.Load(), ps.zeroHits.Load())
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (len(sorted)*p + 99) / 100
	idx = min(max(idx-1, 0), len(sorted)-1)
	return sorted[idx]
}
