// Command gosession-loadtest measures concurrent token renewal.
//
// Each round expires every access token on the fake management API and fires
// -concurrency requests at once through one Controller. A healthy run renews
// exactly once per round. With -base-url the requests go to a real API and
// tokens expire on their own schedule.
//
//	go run ./cmd/gosession-loadtest -rounds 20 -concurrency 256 -storage redis
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/apitest"
	"github.com/MrEthical07/goSession/storage"
)

func main() {
	var (
		baseURL     = flag.String("base-url", "", "management API base URL; empty starts a local fake")
		email       = flag.String("email", "load@example.com", "login email")
		password    = flag.String("password", "load-test", "login password")
		rounds      = flag.Int("rounds", 10, "expiry rounds")
		concurrency = flag.Int("concurrency", 128, "concurrent requests per round")
		backend     = flag.String("storage", "memory", "session storage: memory or redis")
		redisAddr   = flag.String("redis-addr", "", "redis address; empty uses REDIS_ADDR or miniredis")
		logLevel    = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *rounds <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "rounds and concurrency must be > 0")
		os.Exit(2)
	}

	var fake *apitest.Server
	if *baseURL == "" {
		srv, err := apitest.Start()
		if err != nil {
			fmt.Fprintf(os.Stderr, "start fake api: %v\n", err)
			os.Exit(1)
		}
		defer srv.Close()
		srv.AddUser(*email, *password, "Load Test")
		org := srv.AddOrganization("Load", "load")
		srv.AddProject(org.ID, "Checkout", "")
		fake = srv
		*baseURL = srv.BaseURL()
		fmt.Printf("using fake management API at %s\n", *baseURL)
	}

	kv, cleanup, err := openStorage(*backend, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := goSession.DefaultConfig()
	cfg.API.BaseURL = *baseURL
	cfg.Logging.Level = *logLevel
	logger := goSession.NewLogger(cfg.Logging, os.Stderr)

	ctrl, err := goSession.New().WithConfig(cfg).WithStorage(kv).WithLogger(logger).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build controller: %v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	ctx := context.Background()
	if err := ctrl.Login(ctx, *email, *password); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	var all []time.Duration
	var failures int64
	start := time.Now()
	for r := 0; r < *rounds; r++ {
		if fake != nil {
			fake.Expire()
		}
		lat, failed := runRound(ctx, ctrl, *concurrency)
		all = append(all, lat...)
		failures += failed
		if !ctrl.Snapshot().Authenticated() {
			fmt.Fprintf(os.Stderr, "session lost in round %d\n", r+1)
			break
		}
	}
	total := time.Since(start)

	m := ctrl.MetricsSnapshot().Counters
	fmt.Println("---- results ----")
	printStats(computeStats(total, all, failures))
	fmt.Printf("renewals=%d renewal_requests=%d retried=%d auth_expired=%d\n",
		m[goSession.MetricRefreshAttempt],
		m[goSession.MetricRefreshRequested],
		m[goSession.MetricRequestRetried],
		m[goSession.MetricAuthExpired],
	)
	if fake != nil {
		fmt.Printf("server refresh calls=%d (rounds=%d)\n", fake.RefreshCalls(), *rounds)
	}
}

func openStorage(backend, addr string) (storage.Storage, func(), error) {
	switch backend {
	case "memory":
		return storage.NewMemoryStorage(), func() {}, nil
	case "redis":
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		var mr *miniredis.Miniredis
		if addr == "" {
			var err error
			mr, err = miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			addr = mr.Addr()
			fmt.Printf("using miniredis at %s\n", addr)
		} else {
			fmt.Printf("using redis at %s\n", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		return storage.NewRedisStorage(client, "gosession-load", 0), func() {
			_ = client.Close()
			if mr != nil {
				mr.Close()
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", backend)
	}
}

func runRound(ctx context.Context, ctrl *goSession.Controller, concurrency int) ([]time.Duration, int64) {
	var (
		wg        sync.WaitGroup
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, concurrency)
		startGate = make(chan struct{})
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-startGate
			t0 := time.Now()
			_, err := ctrl.API().ListOrganizations(ctx)
			d := time.Since(t0)
			if err != nil {
				atomic.AddInt64(&failures, 1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
		}()
	}
	close(startGate)
	wg.Wait()
	return latencies, failures
}

type stats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) stats {
	if len(samples) == 0 {
		return stats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return stats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

func printStats(s stats) {
	fmt.Printf("requests=%d failures=%d total=%s req/sec=%.0f p50=%s p95=%s p99=%s\n",
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
