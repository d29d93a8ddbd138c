// main.go - Load generator for the linkhub ingestion endpoint
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"linkhub/internal/config"
	"linkhub/internal/emitter"
	"linkhub/internal/events"
)

// LoadConfig holds the configuration for a load run
type LoadConfig struct {
	BaseURL      string
	Concurrency  int
	Duration     time.Duration
	EventsPerSec int
	Timeout      time.Duration
	Slugs        []string
}

// Result captures the result of a single request
type Result struct {
	Kind       events.Kind
	Duration   time.Duration
	StatusCode int
	Error      error
}

// LoadStats aggregates results; only the collector goroutine touches it.
type LoadStats struct {
	Total       int64
	Accepted    int64
	Failed      int64
	StatusCodes map[int]int64
	ByKind      map[events.Kind]int64
	Latencies   []time.Duration
	Start       time.Time
	End         time.Time
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the linkhub server")
	concurrency := flag.Int("c", 10, "Number of concurrent simulated visitors")
	duration := flag.Duration("d", 30*time.Second, "Duration of the run")
	eventsPerSec := flag.Int("rate", 0, "Target events per second (0 = unlimited)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	slugs := flag.String("slugs", "acme-plumbing,zen-yoga,corner-deli", "Comma-separated business slugs to visit")
	browse := flag.Bool("browse", false, "Drive full page instrumentation per visitor instead of raw requests")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &LoadConfig{
		BaseURL:      strings.TrimRight(*baseURL, "/"),
		Concurrency:  *concurrency,
		Duration:     *duration,
		EventsPerSec: *eventsPerSec,
		Timeout:      *timeout,
		Slugs:        strings.Split(*slugs, ","),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, stopping", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("Starting load run",
		slog.String("endpoint", cfg.BaseURL+"/api/track"),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Duration("duration", cfg.Duration),
		slog.Int("rate", cfg.EventsPerSec))

	if *browse {
		sent, dropped := browseRun(ctx, cfg, logger)
		logger.Info("Browse run finished", slog.Int64("sent", sent), slog.Int64("dropped", dropped))
		return
	}

	stats := &LoadStats{
		StatusCodes: map[int]int64{},
		ByKind:      map[events.Kind]int64{},
		Start:       time.Now(),
	}
	for result := range run(ctx, cfg) {
		stats.record(result)
	}
	stats.End = time.Now()

	stats.print(os.Stdout)
}

// run starts one goroutine per simulated visitor and streams their results.
func run(ctx context.Context, cfg *LoadConfig) <-chan Result {
	results := make(chan Result, cfg.Concurrency*10)
	var wg sync.WaitGroup

	var interval time.Duration
	if cfg.EventsPerSec > 0 {
		interval = time.Duration(float64(time.Second) * float64(cfg.Concurrency) / float64(cfg.EventsPerSec))
	}

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)))

			var ticker *time.Ticker
			if interval > 0 {
				ticker = time.NewTicker(interval)
				defer ticker.Stop()
			}

			for ctx.Err() == nil {
				for _, req := range visit(rng, cfg.Slugs) {
					if ticker != nil {
						select {
						case <-ticker.C:
						case <-ctx.Done():
							return
						}
					}
					if ctx.Err() != nil {
						return
					}
					results <- send(ctx, client, cfg.BaseURL+"/api/track", req)
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// visit builds the events of one directory session in emission order.
func visit(rng *rand.Rand, slugs []string) []events.TrackRequest {
	session := emitter.NewToken(time.Now())
	ua := userAgents[rng.IntN(len(userAgents))]

	build := func(kind events.Kind, pathname string, metadata map[string]any) events.TrackRequest {
		raw, _ := json.Marshal(metadata)
		return events.TrackRequest{
			Event:     string(kind),
			SessionID: session,
			URL:       "https://linkhub.local" + pathname,
			Pathname:  pathname,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			UserAgent: ua,
			Metadata:  raw,
		}
	}

	reqs := []events.TrackRequest{build(events.KindPageView, "/", map[string]any{"title": "Linkhub"})}
	if len(slugs) == 0 || rng.Float64() < 0.3 {
		return append(reqs, build(events.KindPageExit, "/", map[string]any{"timeOnPage": 8, "maxScrollDepth": 0}))
	}

	path := "/business/" + strings.TrimSpace(slugs[rng.IntN(len(slugs))])
	reqs = append(reqs,
		build(events.KindPageView, path, map[string]any{"title": "Business"}),
		build(events.KindScrollDepth, path, map[string]any{"depth": 25, "scrollPercent": 25}),
		build(events.KindHeartbeat, path, map[string]any{"timeOnPage": 15, "isActive": true}),
	)
	if rng.Float64() < 0.3 {
		reqs = append(reqs, build(events.KindBusinessCall, path, map[string]any{"href": "tel:+15550100"}))
	}
	return append(reqs, build(events.KindPageExit, path, map[string]any{"timeOnPage": 20, "maxScrollDepth": 25}))
}

// browseRun gives every worker its own visitor: a cookie jar, an instrumentation and a
// fire-and-forget transport. Heartbeats are sped up so short runs still produce them.
func browseRun(ctx context.Context, cfg *LoadConfig, logger *slog.Logger) (sent, dropped int64) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)))
			transport := emitter.NewHTTPTransport(cfg.BaseURL+"/api/track", logger,
				emitter.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
			opts := emitter.OptionsFromConfig(config.GetConfig())
			opts.HeartbeatInterval = time.Second
			visitor := emitter.New(transport, emitter.NewMemoryCookies(), opts)
			ua := userAgents[rng.IntN(len(userAgents))]

			pause := func(d time.Duration) bool {
				select {
				case <-ctx.Done():
					return false
				case <-time.After(d):
					return true
				}
			}

			for ctx.Err() == nil {
				visitor.Start(emitter.Page{URL: "https://linkhub.local/", Title: "Linkhub", UserAgent: ua})
				if !pause(time.Duration(200+rng.IntN(800)) * time.Millisecond) {
					break
				}
				slug := strings.TrimSpace(cfg.Slugs[rng.IntN(len(cfg.Slugs))])
				visitor.Start(emitter.Page{
					URL:       "https://linkhub.local/business/" + slug,
					Title:     slug,
					Referrer:  "https://linkhub.local/",
					UserAgent: ua,
				})
				for _, depth := range []float64{30, 60, 100} {
					visitor.Scroll(depth)
					if !pause(300 * time.Millisecond) {
						break
					}
				}
				if rng.Float64() < 0.3 {
					visitor.Click(emitter.Link{Href: "tel:+15550100", Text: "Call", Element: "a"})
				}
				pause(time.Duration(500+rng.IntN(1500)) * time.Millisecond)
				visitor.Teardown()
			}
			visitor.Teardown()

			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			if err := transport.Close(closeCtx); err != nil {
				logger.Warn("Transport did not drain", slog.Int("worker", worker), slog.Any("error", err))
			}
			s, d := transport.Stats()
			mu.Lock()
			sent += s
			dropped += d
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	return sent, dropped
}

func send(ctx context.Context, client *http.Client, endpoint string, req events.TrackRequest) Result {
	kind := events.Kind(req.Event)
	body, err := json.Marshal(req)
	if err != nil {
		return Result{Kind: kind, Error: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Kind: kind, Error: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", req.UserAgent)

	started := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := time.Since(started)
	if err != nil {
		return Result{Kind: kind, Duration: elapsed, Error: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Kind: kind, Duration: elapsed, StatusCode: resp.StatusCode}
}

func (s *LoadStats) record(r Result) {
	// Requests cut off by the end of the run are not counted.
	if errors.Is(r.Error, context.Canceled) || errors.Is(r.Error, context.DeadlineExceeded) {
		return
	}
	s.Total++
	if r.Error != nil {
		s.Failed++
		return
	}
	s.StatusCodes[r.StatusCode]++
	s.ByKind[r.Kind]++
	s.Latencies = append(s.Latencies, r.Duration)
	if r.StatusCode == http.StatusNoContent {
		s.Accepted++
	} else {
		s.Failed++
	}
}

func (s *LoadStats) percentile(p float64) time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	idx := int(float64(len(s.Latencies)-1) * p)
	return s.Latencies[idx]
}

func (s *LoadStats) print(out io.Writer) {
	sort.Slice(s.Latencies, func(i, j int) bool { return s.Latencies[i] < s.Latencies[j] })
	elapsed := s.End.Sub(s.Start)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\nMETRIC\tVALUE\n")
	fmt.Fprintf(w, "------\t-----\n")
	fmt.Fprintf(w, "Duration\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests\t%d\n", s.Total)
	fmt.Fprintf(w, "Accepted (204)\t%d\n", s.Accepted)
	fmt.Fprintf(w, "Failed\t%d\n", s.Failed)
	if elapsed > 0 {
		fmt.Fprintf(w, "Requests/sec\t%.2f\n", float64(s.Total)/elapsed.Seconds())
	}
	fmt.Fprintf(w, "p50\t%v\n", s.percentile(0.50))
	fmt.Fprintf(w, "p95\t%v\n", s.percentile(0.95))
	fmt.Fprintf(w, "p99\t%v\n", s.percentile(0.99))
	w.Flush()

	if len(s.StatusCodes) > 0 {
		codes := make([]int, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		fmt.Fprintln(out, "\nStatus codes:")
		for _, code := range codes {
			fmt.Fprintf(out, "  %d: %d\n", code, s.StatusCodes[code])
		}
	}

	if len(s.ByKind) > 0 {
		kinds := make([]string, 0, len(s.ByKind))
		for kind := range s.ByKind {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		fmt.Fprintln(out, "\nEvents by kind:")
		for _, kind := range kinds {
			fmt.Fprintf(out, "  %s: %d\n", kind, s.ByKind[events.Kind(kind)])
		}
	}
}
