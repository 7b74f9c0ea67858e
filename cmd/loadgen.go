// cmd/loadgen.go
//
// Load generator with two seeded client profiles against a running proxy:
// client A fires bursts of short sequences, client B trickles longer ones.
// Under the shortest-first policy A's median latency should sit well below
// B's, because A's short requests are grouped with each other ahead of B's
// longer sequences; a batch still mixes the two clients when few requests
// are waiting or their lengths overlap.
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	loadgenURL  string
	loadgenSeed int64
)

// clientStats collects per-request outcomes for one client profile.
type clientStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int
}

func (s *clientStats) record(latency time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.latencies = append(s.latencies, latency)
	} else {
		s.failures++
	}
}

func (s *clientStats) summary() (count int, failures int, mean, median time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count = len(s.latencies)
	failures = s.failures
	if count == 0 {
		return
	}
	sorted := make([]time.Duration, count)
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	mean = total / time.Duration(count)
	median = sorted[count/2]
	return
}

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Run the two-client load profile against a proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		logrus.Infof("Starting loadgen: url=%s seed=%d", loadgenURL, loadgenSeed)

		httpClient := &http.Client{Timeout: 30 * time.Second}
		statsA := &clientStats{}
		statsB := &clientStats{}

		start := time.Now()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			runClientA(httpClient, rand.New(rand.NewSource(loadgenSeed)), statsA)
		}()
		go func() {
			defer wg.Done()
			runClientB(httpClient, rand.New(rand.NewSource(loadgenSeed+1)), statsB)
		}()
		wg.Wait()
		total := time.Since(start)

		printStats("A (bursty short)", statsA)
		printStats("B (steady long)", statsB)
		fmt.Printf("Total time taken     : %.2fs\n", total.Seconds())
		return nil
	},
}

// runClientA sends three bursts of five short sequences (5-12 chars) with
// small gaps inside a burst and a pause between bursts.
func runClientA(httpClient *http.Client, rng *rand.Rand, stats *clientStats) {
	var wg sync.WaitGroup
	for burst := 0; burst < 3; burst++ {
		for i := 0; i < 5; i++ {
			seq := strings.Repeat("a", 5+rng.Intn(8))
			wg.Add(1)
			go func() {
				defer wg.Done()
				classifyOnce(httpClient, seq, stats)
			}()
			sleepBetween(rng, 50*time.Millisecond, 100*time.Millisecond)
		}
		if burst < 2 {
			sleepBetween(rng, 500*time.Millisecond, time.Second)
		}
	}
	wg.Wait()
}

// runClientB sends twelve staggered longer sequences (10-25 chars).
func runClientB(httpClient *http.Client, rng *rand.Rand, stats *clientStats) {
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		seq := strings.Repeat("b", 10+rng.Intn(16))
		wg.Add(1)
		go func() {
			defer wg.Done()
			classifyOnce(httpClient, seq, stats)
		}()
		sleepBetween(rng, 200*time.Millisecond, 500*time.Millisecond)
	}
	wg.Wait()
}

func classifyOnce(httpClient *http.Client, sequence string, stats *clientStats) {
	body, _ := json.Marshal(map[string]string{"sequence": sequence})
	start := time.Now()
	resp, err := httpClient.Post(loadgenURL, "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		logrus.Warnf("request failed: %v", err)
		stats.record(0, false)
		return
	}
	defer resp.Body.Close()
	stats.record(latency, resp.StatusCode == http.StatusOK)
}

func sleepBetween(rng *rand.Rand, lo, hi time.Duration) {
	time.Sleep(lo + time.Duration(rng.Int63n(int64(hi-lo))))
}

func printStats(name string, stats *clientStats) {
	count, failures, mean, median := stats.summary()
	fmt.Printf("Client %s\n", name)
	fmt.Printf("  Successful requests: %d\n", count)
	fmt.Printf("  Failed requests    : %d\n", failures)
	if count > 0 {
		fmt.Printf("  Mean latency       : %.3fs\n", mean.Seconds())
		fmt.Printf("  Median latency     : %.3fs\n", median.Seconds())
	}
}

func init() {
	loadgenCmd.Flags().StringVar(&loadgenURL, "url", "http://localhost:8000/proxy_classify", "Proxy classification endpoint")
	loadgenCmd.Flags().Int64Var(&loadgenSeed, "seed", 7, "RNG seed for sequence lengths and pacing")

	rootCmd.AddCommand(loadgenCmd)
}
