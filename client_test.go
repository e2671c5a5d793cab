package tokenpipe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenpipe/internal/testserver"
	"github.com/MrEthical07/tokenpipe/refresh"
	"github.com/MrEthical07/tokenpipe/session"
	"github.com/MrEthical07/tokenpipe/transport"
)

func TestConcurrentRequestsWithoutAccessTokenRenewOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, false)
	h.srv.SetRefreshDelay(50 * time.Millisecond)

	results := fire(h, "/cart", 5)

	for i, r := range results {
		if r.err != nil {
			t.Fatalf("request %d failed: %v", i, r.err)
		}
		if r.resp.Retried {
			t.Fatalf("request %d should not need a retry", i)
		}
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	if got := h.store.Sets(); got != 1 {
		t.Fatalf("expected credentials written once, got %d", got)
	}
	if got := h.srv.ExpiredAnswers(); got != 0 {
		t.Fatalf("expected no expiry answers, got %d", got)
	}

	snap := h.client.MetricsSnapshot()
	if joined := snap.Counters[MetricRenewalStarted] + snap.Counters[MetricRenewalWaiter]; joined != 5 {
		t.Fatalf("expected 5 acquisitions, got %d", joined)
	}
	if snap.Counters[MetricCredentialMissing] != 5 {
		t.Fatalf("expected 5 missing-credential requests, got %d", snap.Counters[MetricCredentialMissing])
	}
	if h.client.RenewalState() != refresh.StateIdle {
		t.Fatalf("expected idle coordinator, got %s", h.client.RenewalState())
	}
}

func TestCodeExpiryRetriesEachRequestOnce(t *testing.T) {
	h := newHarness(t)
	seeded := h.seed(t, true)
	h.srv.ExpireAll()
	h.srv.SetRefreshDelay(100 * time.Millisecond)

	results := fire(h, "/orders", 3)

	for i, r := range results {
		if r.err != nil {
			t.Fatalf("request %d failed: %v", i, r.err)
		}
		if !r.resp.Retried {
			t.Fatalf("request %d should have been retried", i)
		}
		if r.resp.Code != testserver.CodeSuccess {
			t.Fatalf("request %d: expected success code, got %d", i, r.resp.Code)
		}
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	if got := h.srv.ExpiredAnswers(); got != 3 {
		t.Fatalf("expected 3 expiry answers, got %d", got)
	}
	if got := h.srv.ProtectedCalls(); got != 6 {
		t.Fatalf("expected one retry per request (6 calls), got %d", got)
	}
	if creds := h.stored(t); creds.AccessToken == seeded.AccessToken || creds.AccessToken == "" {
		t.Fatal("expected a renewed access token in the store")
	}

	snap := h.client.MetricsSnapshot()
	if snap.Counters[MetricExpiryCode] != 3 || snap.Counters[MetricRetry] != 3 {
		t.Fatalf("unexpected expiry/retry counters: %+v", snap.Counters)
	}
}

func TestInvalidRefreshTokenRejectsAllAndRedirectsOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.ExpireAll()
	h.srv.RejectRefresh(true)
	h.srv.SetRefreshDelay(50 * time.Millisecond)

	results := fire(h, "/orders", 4)

	for i, r := range results {
		if !errors.Is(r.err, ErrSessionExpired) {
			t.Fatalf("request %d: expected ErrSessionExpired, got %v", i, r.err)
		}
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	if creds := h.stored(t); !creds.Empty() {
		t.Fatalf("expected empty store, got %+v", creds)
	}
	if hist := h.nav.History(); len(hist) != 1 || hist[0] != "/user/login" {
		t.Fatalf("expected exactly one redirect to /user/login, got %v", hist)
	}

	notices := h.notices.Notices()
	if len(notices) != 1 || notices[0].Level != session.LevelError {
		t.Fatalf("expected one error notice, got %+v", notices)
	}
	if !strings.Contains(notices[0].Message, "Session expired") {
		t.Fatalf("unexpected notice message %q", notices[0].Message)
	}

	warned := false
	for _, e := range h.logHook.AllEntries() {
		if e.Message == "credential renewal failed" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected the failed renewal to be logged")
	}
}

func TestStatusExpirySignalRenewsAndRetries(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.ExpireAll()
	h.srv.SetExpirySignal(testserver.SignalStatus)

	resp, err := h.client.Get(context.Background(), "/cart", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !resp.Retried {
		t.Fatal("expected the response to come from the retry")
	}
	if h.srv.RefreshCalls() != 1 {
		t.Fatalf("expected 1 refresh call, got %d", h.srv.RefreshCalls())
	}
	if got := h.client.MetricsSnapshot().Counters[MetricExpiryStatus]; got != 1 {
		t.Fatalf("expected 1 status expiry, got %d", got)
	}
}

func TestRetryThatExpiresAgainIsNotRetriedTwice(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.SetMode(testserver.ModeAlwaysExpired)

	_, err := h.client.Get(context.Background(), "/orders", nil)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	var expErr *ExpiryError
	if !errors.As(err, &expErr) || expErr.Code != testserver.CodeTokenExpired {
		t.Fatalf("expected *ExpiryError with code 1007, got %#v", err)
	}
	if got := h.srv.ProtectedCalls(); got != 2 {
		t.Fatalf("expected original plus one retry, got %d calls", got)
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	if creds := h.stored(t); creds.AccessToken == "" {
		t.Fatal("a second expiry must not clear the session")
	}
}

func TestForbiddenNeverRenews(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.SetMode(testserver.ModeForbidden)

	_, err := h.client.Get(context.Background(), "/orders", nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected *HTTPError 403, got %#v", err)
	}
	if h.srv.RefreshCalls() != 0 {
		t.Fatalf("403 must not renew, got %d refresh calls", h.srv.RefreshCalls())
	}
	if h.client.RenewalCycles() != 0 {
		t.Fatalf("403 must not start a renewal cycle")
	}
	if creds := h.stored(t); creds.AccessToken == "" {
		t.Fatal("403 must not clear credentials")
	}

	notices := h.notices.Notices()
	if len(notices) != 1 || notices[0].Message != msgPermissionDenied {
		t.Fatalf("expected permission notice, got %+v", notices)
	}
}

func TestForbiddenNeverRenewsAlongsideConcurrentExpiry(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.ExpireAll()
	h.srv.SetExpirySignal(testserver.SignalStatus)

	const each = 5
	start := make(chan struct{})
	forbidden := make([]error, each)
	expired := make([]result, each)
	var wg sync.WaitGroup
	for i := 0; i < each; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			<-start
			_, forbidden[i] = h.client.Get(context.Background(), "/admin", nil)
		}(i)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := h.client.Get(context.Background(), "/cart", nil)
			expired[i] = result{resp: resp, err: err}
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range forbidden {
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("forbidden request %d: expected ErrPermissionDenied, got %v", i, err)
		}
	}
	for i, r := range expired {
		if r.err != nil {
			t.Fatalf("expired request %d failed: %v", i, r.err)
		}
		var data struct {
			User string `json:"user"`
		}
		if err := r.resp.DecodeData(&data); err != nil || data.User != "alice" {
			t.Fatalf("expired request %d: unexpected data %s (%v)", i, string(r.resp.Data), err)
		}
	}
	if got := h.srv.RefreshCalls(); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	if got := h.client.MetricsSnapshot().Counters[MetricPermissionDenied]; got != each {
		t.Fatalf("expected %d permission denials, got %d", each, got)
	}
}

func TestErrorStatusesAreSurfacedWithoutRenewal(t *testing.T) {
	cases := []struct {
		name   string
		mode   testserver.Mode
		target error
		metric MetricID
	}{
		{name: "not found", mode: testserver.ModeNotFound, target: ErrNotFound, metric: MetricNotFound},
		{name: "server error", mode: testserver.ModeServerError, target: ErrServerFailure, metric: MetricServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(t, true)
			h.srv.SetMode(tc.mode)

			_, err := h.client.Get(context.Background(), "/cart", nil)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if h.srv.RefreshCalls() != 0 || h.srv.ProtectedCalls() != 1 {
				t.Fatalf("expected one call and no renewal, got %d calls and %d refreshes",
					h.srv.ProtectedCalls(), h.srv.RefreshCalls())
			}
			if got := h.client.MetricsSnapshot().Counters[tc.metric]; got != 1 {
				t.Fatalf("expected metric %d to be 1, got %d", tc.metric, got)
			}
		})
	}
}

func TestErrorNoticesCanBeDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Notify.Errors = false })
	h.seed(t, true)
	h.srv.SetMode(testserver.ModeServerError)

	if _, err := h.client.Get(context.Background(), "/cart", nil); !errors.Is(err, ErrServerFailure) {
		t.Fatalf("expected ErrServerFailure, got %v", err)
	}
	if n := len(h.notices.Notices()); n != 0 {
		t.Fatalf("expected no notices, got %d", n)
	}
}

func TestRenewedNoticeOnCodeExpiry(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Notify.Renewed = true })
	h.seed(t, true)
	h.srv.ExpireAll()

	if _, err := h.client.Get(context.Background(), "/cart", nil); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	notices := h.notices.Notices()
	if len(notices) != 1 || notices[0].Level != session.LevelInfo || notices[0].Message != msgRenewed {
		t.Fatalf("expected one renewed notice, got %+v", notices)
	}
}

func TestPublicRequestBypassesCredentials(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Do(context.Background(), &Envelope{Path: "/products", Public: true})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	var data struct {
		Path string `json:"path"`
	}
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if data.Path != "/products" {
		t.Fatalf("unexpected data %+v", data)
	}
	if h.srv.RefreshCalls() != 0 || h.client.RenewalCycles() != 0 {
		t.Fatal("public request must not renew")
	}
	if len(h.nav.History()) != 0 {
		t.Fatal("public request must not redirect")
	}
}

func TestPublicPathFailureCodeIsAPIError(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Post(context.Background(), "/user/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	if !errors.Is(err, ErrAPIFailure) {
		t.Fatalf("expected ErrAPIFailure, got %v", err)
	}
	var aerr *APIError
	if !errors.As(err, &aerr) || aerr.Code != testserver.CodeBadLogin {
		t.Fatalf("expected *APIError with code %d, got %#v", testserver.CodeBadLogin, err)
	}
	if h.client.RenewalCycles() != 0 {
		t.Fatal("login path must not renew")
	}
}

func TestMissingRefreshTokenFailsWithoutNetwork(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Get(context.Background(), "/cart", nil)
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, refresh.ErrNoRefreshToken) {
		t.Fatalf("expected session expired caused by missing refresh token, got %v", err)
	}
	if h.srv.RefreshCalls() != 0 || h.srv.ProtectedCalls() != 0 {
		t.Fatal("nothing should reach the backend")
	}
	if hist := h.nav.History(); len(hist) != 1 {
		t.Fatalf("expected one redirect, got %v", hist)
	}
}

func TestRedirectSuppressedOnEntryPage(t *testing.T) {
	h := newHarness(t)
	h.nav.Navigate("/user/register")

	if _, err := h.client.Get(context.Background(), "/cart", nil); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if hist := h.nav.History(); len(hist) != 1 || hist[0] != "/user/register" {
		t.Fatalf("expected no redirect from the register page, got %v", hist)
	}
	if got := h.client.MetricsSnapshot().Counters[MetricRedirectSuppressed]; got != 1 {
		t.Fatalf("expected one suppressed redirect, got %d", got)
	}
}

func TestSecondCascadeDoesNotRedirectAgain(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.ExpireAll()
	h.srv.RejectRefresh(true)

	for i := 0; i < 3; i++ {
		if _, err := h.client.Get(context.Background(), "/cart", nil); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("attempt %d: expected ErrSessionExpired, got %v", i, err)
		}
	}
	if hist := h.nav.History(); len(hist) != 1 {
		t.Fatalf("expected exactly one redirect, got %v", hist)
	}
	if n := len(h.notices.Notices()); n != 1 {
		t.Fatalf("expected exactly one notice, got %d", n)
	}
}

func TestTransportFailureNeverRenews(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	h.srv.Close()

	_, err := h.client.Get(context.Background(), "/cart", nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if h.client.RenewalCycles() != 0 {
		t.Fatal("transport failure must not renew")
	}
	if creds := h.stored(t); creds.AccessToken == "" {
		t.Fatal("transport failure must not clear credentials")
	}
	notices := h.notices.Notices()
	if len(notices) != 1 || notices[0].Message != msgTransport {
		t.Fatalf("expected transport notice, got %+v", notices)
	}
}

func TestOversizeBodyIsNotMistakenForSuccess(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Transport.MaxBodyBytes = 16 })
	h.seed(t, true)
	h.srv.ExpireAll()

	resp, err := h.client.Get(context.Background(), "/cart", nil)
	if resp != nil {
		t.Fatalf("a cut-off body must not be returned, got %q", string(resp.Body))
	}
	if !errors.Is(err, ErrTransport) || !errors.Is(err, transport.ErrBodyTooLarge) {
		t.Fatalf("expected ErrTransport wrapping ErrBodyTooLarge, got %v", err)
	}
	if h.srv.RefreshCalls() != 0 {
		t.Fatal("an unreadable answer must not renew")
	}
}

func TestProactiveSkewRenewsBeforeSending(t *testing.T) {
	// Fresh tokens live for 15 minutes; a 20 minute skew treats them as expiring.
	h := newHarness(t, func(c *Config) { c.Refresh.ProactiveSkew = 20 * time.Minute })
	h.seed(t, true)

	resp, err := h.client.Get(context.Background(), "/cart", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.Retried {
		t.Fatal("proactive renewal should avoid the retry")
	}
	if h.srv.RefreshCalls() != 1 || h.srv.ExpiredAnswers() != 0 {
		t.Fatalf("expected one renewal and no expiry answers, got %d and %d",
			h.srv.RefreshCalls(), h.srv.ExpiredAnswers())
	}
	if got := h.client.MetricsSnapshot().Counters[MetricCredentialProactive]; got != 1 {
		t.Fatalf("expected one proactive renewal, got %d", got)
	}
}

func TestRequestIDIsForwarded(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)

	ctx := WithRequestID(context.Background(), "req-123")
	resp, err := h.client.Get(ctx, "/cart", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.RequestID != "req-123" {
		t.Fatalf("expected request id req-123, got %q", resp.RequestID)
	}
	var data map[string]string
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if data["request_id"] != "req-123" {
		t.Fatalf("backend saw request id %q", data["request_id"])
	}
}

func TestResponseWithoutEnvelopeIsPassedThrough(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)

	resp, err := h.client.Get(context.Background(), "/plain", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.HasCode || string(resp.Body) != "plain body" {
		t.Fatalf("unexpected passthrough response %+v", resp)
	}
}

func TestCallerCancellationDoesNotAbortRenewal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, false)
	h.srv.SetRefreshDelay(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.client.Get(ctx, "/cart", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.client.RenewalState() != refresh.StateIdle || h.client.RenewalCycles() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("renewal did not settle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if creds := h.stored(t); creds.AccessToken == "" {
		t.Fatal("detached renewal should still have stored the new token")
	}
}

func TestDoRejectsInvalidInput(t *testing.T) {
	var nilClient *Client
	if _, err := nilClient.Do(context.Background(), &Envelope{Path: "/cart"}); !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("expected ErrClientNotReady, got %v", err)
	}

	h := newHarness(t)
	if _, err := h.client.Do(context.Background(), nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := h.client.Do(context.Background(), &Envelope{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty path, got %v", err)
	}
}
