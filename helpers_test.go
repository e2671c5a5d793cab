package tokenpipe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/internal/testserver"
	"github.com/MrEthical07/tokenpipe/session"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type harness struct {
	srv     *testserver.Server
	store   *credentials.CountingStore
	nav     *session.MemoryNavigator
	notices *session.Recorder
	client  *Client
	logHook *logtest.Hook
}

type harnessOption func(*Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	srv := testserver.New(testserver.Config{})
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Transport.BaseURL = srv.URL
	cfg.Transport.Timeout = 5 * time.Second
	cfg.Refresh.Timeout = 5 * time.Second
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	for _, opt := range opts {
		opt(&cfg)
	}

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		srv:     srv,
		store:   credentials.NewCountingStore(credentials.NewMemoryStore()),
		nav:     session.NewMemoryNavigator("/cart"),
		notices: &session.Recorder{},
		logHook: hook,
	}

	client, err := New().
		WithConfig(cfg).
		WithStore(h.store).
		WithNavigator(h.nav).
		WithNotifier(h.notices).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)
	h.client = client
	return h
}

// seed stores a live token pair for alice, or only its refresh token when withAccess is false.
func (h *harness) seed(t *testing.T, withAccess bool) credentials.Credentials {
	t.Helper()
	access, refresh, err := h.srv.Issue("alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	creds := credentials.Credentials{RefreshToken: refresh}
	if withAccess {
		creds.AccessToken = access
	}
	if err := h.store.Set(context.Background(), creds); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	h.store.Reset()
	return creds
}

func (h *harness) stored(t *testing.T) credentials.Credentials {
	t.Helper()
	creds, err := h.store.Get(context.Background())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	return creds
}

type result struct {
	resp *Response
	err  error
}

// fire sends n GETs to path at once and returns every outcome.
func fire(h *harness, path string, n int) []result {
	start := make(chan struct{})
	out := make([]result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := h.client.Get(context.Background(), path, nil)
			out[i] = result{resp: resp, err: err}
		}(i)
	}
	close(start)
	wg.Wait()
	return out
}
