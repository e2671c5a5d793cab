package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/sirupsen/logrus"
)

type stubRenewer struct {
	calls   atomic.Int64
	gate    chan struct{}
	lastTok atomic.Value
	fn      func(refreshToken string) (credentials.Credentials, error)
}

func (r *stubRenewer) Renew(ctx context.Context, refreshToken string) (credentials.Credentials, error) {
	r.calls.Add(1)
	r.lastTok.Store(refreshToken)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return credentials.Credentials{}, ctx.Err()
		}
	}
	return r.fn(refreshToken)
}

type failingStore struct {
	*credentials.MemoryStore
	setErr error
}

func (s *failingStore) Set(ctx context.Context, c credentials.Credentials) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.Set(ctx, c)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func seededStore(t *testing.T, access, refresh string) *credentials.CountingStore {
	t.Helper()
	s := credentials.NewCountingStore(credentials.NewMemoryStore())
	if err := s.Set(context.Background(), credentials.Credentials{AccessToken: access, RefreshToken: refresh}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	s.Reset()
	return s
}

func waitPending(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters, have %d", n, c.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAcquireSingleFlight(t *testing.T) {
	store := seededStore(t, "old-access", "r1")
	renewer := &stubRenewer{
		gate: make(chan struct{}),
		fn: func(string) (credentials.Credentials, error) {
			return credentials.Credentials{AccessToken: "new-access", RefreshToken: "r2"}, nil
		},
	}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			tok, err := c.Acquire(context.Background(), "old-access")
			results <- result{token: tok, err: err}
		}()
	}

	waitPending(t, c, n)
	if c.State() != StateRefreshing {
		t.Fatalf("expected refreshing state, got %s", c.State())
	}
	close(renewer.gate)
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			t.Fatalf("unexpected error: %v", r.err)
		}
		if r.token != "new-access" {
			t.Fatalf("expected new-access, got %q", r.token)
		}
	}
	if got := renewer.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one renewal call, got %d", got)
	}
	if store.Sets() != 1 {
		t.Fatalf("expected credentials updated once, got %d", store.Sets())
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after settle, got %s", c.State())
	}
	creds, _ := store.Get(context.Background())
	if creds.AccessToken != "new-access" || creds.RefreshToken != "r2" {
		t.Fatalf("unexpected stored credentials %+v", creds)
	}
}

func TestAcquireFailureRejectsAllAndHandlesOnce(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{
		gate: make(chan struct{}),
		fn: func(string) (credentials.Credentials, error) {
			return credentials.Credentials{}, errors.New("refresh rejected")
		},
	}

	var handled atomic.Int64
	var pendingAtHandle atomic.Int64
	var c *Coordinator
	handler := FailureHandlerFunc(func(ctx context.Context, cause error) {
		handled.Add(1)
		pendingAtHandle.Store(int64(c.Pending()))
		if !errors.Is(cause, ErrSessionExpired) {
			t.Errorf("expected session expired cause, got %v", cause)
		}
		_ = store.Clear(ctx)
	})
	c = New(Config{}, renewer, store, handler, WithLogger(quietLogger()))

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Acquire(context.Background(), "old")
			errs <- err
		}()
	}
	waitPending(t, c, n)
	close(renewer.gate)
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
		if first == nil {
			first = err
		} else if err != first {
			t.Fatal("expected one shared rejection value")
		}
	}
	if handled.Load() != 1 {
		t.Fatalf("expected failure handler once, got %d", handled.Load())
	}
	if pendingAtHandle.Load() != n {
		t.Fatalf("expected handler to run before waiters were released, pending=%d", pendingAtHandle.Load())
	}
	if store.Clears() != 1 {
		t.Fatalf("expected store cleared once, got %d", store.Clears())
	}
}

func TestAcquireWithoutHandlerClearsStore(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		return credentials.Credentials{}, errors.New("boom")
	}}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	if _, err := c.Acquire(context.Background(), "old"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if store.Clears() != 1 {
		t.Fatalf("expected one clear, got %d", store.Clears())
	}
}

func TestAcquireAfterFailedCycleDoesNotHandleAgain(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		return credentials.Credentials{}, errors.New("refresh rejected")
	}}
	var handled atomic.Int64
	handler := FailureHandlerFunc(func(ctx context.Context, _ error) {
		handled.Add(1)
		_ = store.Clear(ctx)
	})
	c := New(Config{}, renewer, store, handler, WithLogger(quietLogger()))

	// the second caller's request was sent with "old" before the first cycle cleared it
	for i := 0; i < 2; i++ {
		_, err := c.Acquire(context.Background(), "old")
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("attempt %d: expected ErrSessionExpired, got %v", i, err)
		}
		if i == 1 && !errors.Is(err, ErrNoRefreshToken) {
			t.Fatalf("late caller: expected ErrNoRefreshToken cause, got %v", err)
		}
	}
	if handled.Load() != 1 {
		t.Fatalf("expected failure handler once, got %d", handled.Load())
	}
	if store.Clears() != 1 {
		t.Fatalf("expected store cleared once, got %d", store.Clears())
	}
	if renewer.calls.Load() != 1 {
		t.Fatalf("expected one renewal call, got %d", renewer.calls.Load())
	}
	if c.Cycles() != 2 {
		t.Fatalf("expected two settled cycles, got %d", c.Cycles())
	}
}

func TestAcquireNoRefreshTokenSkipsNetwork(t *testing.T) {
	store := seededStore(t, "", "")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		t.Fatal("renewer must not be called")
		return credentials.Credentials{}, nil
	}}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	_, err := c.Acquire(context.Background(), "")
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected expired(no refresh token), got %v", err)
	}
}

func TestAcquireReusesTokenStoredByEarlierCycle(t *testing.T) {
	store := seededStore(t, "fresh", "r1")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		t.Fatal("renewer must not be called")
		return credentials.Credentials{}, nil
	}}
	var reused atomic.Int64
	c := New(Config{}, renewer, store, nil,
		WithLogger(quietLogger()),
		WithHooks(Hooks{OnReuse: func() { reused.Add(1) }}),
	)

	tok, err := c.Acquire(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if tok != "fresh" {
		t.Fatalf("expected stored token, got %q", tok)
	}
	if reused.Load() != 1 {
		t.Fatalf("expected reuse hook once, got %d", reused.Load())
	}
}

func TestAcquireKeepsRefreshTokenWhenOmitted(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		return credentials.Credentials{AccessToken: "new"}, nil
	}}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	if _, err := c.Acquire(context.Background(), "old"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	creds, _ := store.Get(context.Background())
	if creds.RefreshToken != "r1" {
		t.Fatalf("expected old refresh token kept, got %q", creds.RefreshToken)
	}
	if got, _ := renewer.lastTok.Load().(string); got != "r1" {
		t.Fatalf("expected renewal with r1, got %q", got)
	}
}

func TestAcquireEmptyAccessTokenIsFailure(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		return credentials.Credentials{RefreshToken: "r2"}, nil
	}}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	_, err := c.Acquire(context.Background(), "old")
	if !errors.Is(err, ErrEmptyAccessToken) {
		t.Fatalf("expected ErrEmptyAccessToken, got %v", err)
	}
}

func TestAcquireStoreWriteFailureIsFailure(t *testing.T) {
	mem := credentials.NewMemoryStore()
	_ = mem.Set(context.Background(), credentials.Credentials{AccessToken: "old", RefreshToken: "r1"})
	store := &failingStore{MemoryStore: mem, setErr: credentials.ErrStoreUnavailable}
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		return credentials.Credentials{AccessToken: "new", RefreshToken: "r2"}, nil
	}}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	_, err := c.Acquire(context.Background(), "old")
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, credentials.ErrStoreUnavailable) {
		t.Fatalf("expected expired(store unavailable), got %v", err)
	}
}

func TestAcquireTimeoutIsFailure(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{
		gate: make(chan struct{}),
		fn: func(string) (credentials.Credentials, error) {
			return credentials.Credentials{AccessToken: "new"}, nil
		},
	}
	c := New(Config{Timeout: 30 * time.Millisecond}, renewer, store, nil, WithLogger(quietLogger()))

	_, err := c.Acquire(context.Background(), "old")
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected expired(deadline exceeded), got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after timeout, got %s", c.State())
	}
}

func TestAcquireCallerCancelDoesNotAbortRenewal(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{
		gate: make(chan struct{}),
		fn: func(string) (credentials.Credentials, error) {
			return credentials.Credentials{AccessToken: "new", RefreshToken: "r2"}, nil
		},
	}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	originator := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, "old")
		originator <- err
	}()
	waitPending(t, c, 1)

	waiter := make(chan result, 1)
	go func() {
		tok, err := c.Acquire(context.Background(), "old")
		waiter <- result{token: tok, err: err}
	}()
	waitPending(t, c, 2)

	cancel()
	if err := <-originator; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected originator canceled, got %v", err)
	}

	close(renewer.gate)
	r := <-waiter
	if r.err != nil || r.token != "new" {
		t.Fatalf("expected waiter to receive new token, got %q %v", r.token, r.err)
	}
}

type denyThrottle struct{}

func (denyThrottle) Allow(context.Context) error { return errors.New("limit reached") }

func TestAcquireThrottleRefusal(t *testing.T) {
	store := seededStore(t, "old", "r1")
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		t.Fatal("renewer must not be called")
		return credentials.Credentials{}, nil
	}}
	c := New(Config{}, renewer, store, nil, WithLogger(quietLogger()), WithThrottle(denyThrottle{}))

	_, err := c.Acquire(context.Background(), "old")
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
}

func TestSequentialCyclesEachRenewOnce(t *testing.T) {
	store := seededStore(t, "a0", "r0")
	var n atomic.Int64
	renewer := &stubRenewer{fn: func(string) (credentials.Credentials, error) {
		i := n.Add(1)
		return credentials.Credentials{AccessToken: "a" + string(rune('0'+i)), RefreshToken: "r"}, nil
	}}

	var successes atomic.Int64
	c := New(Config{}, renewer, store, nil,
		WithLogger(quietLogger()),
		WithHooks(Hooks{OnSuccess: func(time.Duration, int) { successes.Add(1) }}),
	)

	tok1, err := c.Acquire(context.Background(), "a0")
	if err != nil || tok1 != "a1" {
		t.Fatalf("first cycle: %q %v", tok1, err)
	}
	tok2, err := c.Acquire(context.Background(), "a1")
	if err != nil || tok2 != "a2" {
		t.Fatalf("second cycle: %q %v", tok2, err)
	}
	if renewer.calls.Load() != 2 || c.Cycles() != 2 || successes.Load() != 2 {
		t.Fatalf("expected two cycles, calls=%d cycles=%d successes=%d", renewer.calls.Load(), c.Cycles(), successes.Load())
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateRefreshing.String() != "refreshing" {
		t.Fatal("unexpected state names")
	}
}
