// Command tokenpipe-loadtest drives a fake backend through the renewal scenarios and
// prints how many renewals each phase cost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	tokenpipe "github.com/MrEthical07/tokenpipe"
	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/internal/config"
	"github.com/MrEthical07/tokenpipe/internal/testserver"
	promexport "github.com/MrEthical07/tokenpipe/metrics/export/prometheus"
	"github.com/MrEthical07/tokenpipe/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type phase struct {
	name    string
	prepare func(ctx context.Context, srv *testserver.Server, client *tokenpipe.Client) error
}

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file")
		envFile     = flag.String("env-file", ".env", "dotenv file, ignored when missing")
		requests    = flag.Int("requests", 2000, "requests per phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent requests in flight")
		refreshWait = flag.Duration("refresh-delay", 20*time.Millisecond, "backend latency of every refresh call")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	)
	flag.Parse()

	if *requests <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "requests and concurrency must be > 0")
		os.Exit(2)
	}

	settings, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetLevel(settings.Level())

	ctx := context.Background()

	srv := testserver.New(testserver.Config{})
	defer srv.Close()
	srv.SetRefreshDelay(*refreshWait)

	// the backend is always the fake; only the store address comes from config
	settings.BaseURL = srv.URL
	settings.Metrics = true
	cfg, err := settings.Config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	addr := settings.RedisAddr
	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	nav := session.NewMemoryNavigator("/cart")
	notices := &session.Recorder{}
	client, err := tokenpipe.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNavigator(nav).
		WithNotifier(notices).
		WithLogger(log).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if *metricsAddr != "" {
		exporter := promexport.NewExporter(client)
		go func() {
			if err := http.ListenAndServe(*metricsAddr, exporter.Handler()); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		fmt.Printf("serving metrics on %s/metrics\n", *metricsAddr)
	}

	phases := []phase{
		{name: "absent-token", prepare: func(ctx context.Context, srv *testserver.Server, client *tokenpipe.Client) error {
			_, refresh, err := srv.Issue("alice")
			if err != nil {
				return err
			}
			return client.Store().Set(ctx, credentials.Credentials{RefreshToken: refresh})
		}},
		{name: "code-1007", prepare: func(ctx context.Context, srv *testserver.Server, client *tokenpipe.Client) error {
			srv.ExpireAll()
			srv.SetExpirySignal(testserver.SignalCode)
			return nil
		}},
		{name: "status-401", prepare: func(ctx context.Context, srv *testserver.Server, client *tokenpipe.Client) error {
			srv.ExpireAll()
			srv.SetExpirySignal(testserver.SignalStatus)
			return nil
		}},
		{name: "rejected-refresh", prepare: func(ctx context.Context, srv *testserver.Server, client *tokenpipe.Client) error {
			srv.ExpireAll()
			srv.RejectRefresh(true)
			return nil
		}},
	}

	fmt.Println("---- results ----")
	for _, p := range phases {
		if err := p.prepare(ctx, srv, client); err != nil {
			fmt.Fprintf(os.Stderr, "%s: prepare failed: %v\n", p.name, err)
			os.Exit(1)
		}
		before := srv.RefreshCalls()
		stats, err := runPhase(ctx, client, *requests, *concurrency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p.name, err)
			os.Exit(1)
		}
		stats.refreshCalls = srv.RefreshCalls() - before
		printStats(p.name, stats)
	}

	snap := client.MetricsSnapshot()
	fmt.Printf("redirects=%d notices=%d renewal_cycles=%d renewals_started=%d waiters=%d\n",
		len(nav.History()),
		len(notices.Notices()),
		client.RenewalCycles(),
		snap.Counters[tokenpipe.MetricRenewalStarted],
		snap.Counters[tokenpipe.MetricRenewalWaiter],
	)
}

// runPhase sends n GETs with at most concurrency in flight. Request failures are
// counted, not returned.
func runPhase(ctx context.Context, client *tokenpipe.Client, n, concurrency int) (phaseStats, error) {
	var (
		expired   atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for i := 0; i < n; i++ {
		g.Go(func() error {
			t0 := time.Now()
			_, err := client.Get(ctx, "/cart", nil)
			d := time.Since(t0)
			switch {
			case err == nil:
			case errors.Is(err, tokenpipe.ErrSessionExpired):
				expired.Add(1)
			case errors.Is(err, context.Canceled):
				return err
			default:
				failures.Add(1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	total := time.Since(start)

	stats := computeStats(total, latencies)
	stats.expired = expired.Load()
	stats.failures = failures.Load()
	return stats, nil
}

type phaseStats struct {
	total        time.Duration
	ops          int
	expired      int64
	failures     int64
	refreshCalls int64
	p50          time.Duration
	p95          time.Duration
	p99          time.Duration
	opsPerS      float64
}

func computeStats(total time.Duration, samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d refresh_calls=%d expired=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.refreshCalls,
		s.expired,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
