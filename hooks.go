package tokenpipe

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/tokenpipe/refresh"
	"github.com/MrEthical07/tokenpipe/session"
)

// renewalHooks feed coordinator events into metrics and audit, and re-arm the session
// handler once a renewal succeeds.
func (c *Client) renewalHooks() refresh.Hooks {
	return refresh.Hooks{
		OnStart: func() { c.metricInc(MetricRenewalStarted) },
		OnWait:  func() { c.metricInc(MetricRenewalWaiter) },
		OnReuse: func() { c.metricInc(MetricRenewalReused) },
		OnSuccess: func(d time.Duration, waiters int) {
			c.metricInc(MetricRenewalSuccess)
			c.metrics.Observe(MetricRenewalLatency, d)
			c.metrics.Add(MetricWaitersResolved, uint64(waiters))
			c.session.Rearm()
			c.emitAudit(context.Background(), AuditRenewalSuccess, true, "", nil, func() map[string]string {
				return map[string]string{
					"waiters":     strconv.Itoa(waiters),
					"duration_ms": strconv.FormatInt(d.Milliseconds(), 10),
				}
			})
		},
		OnFailure: func(err error, d time.Duration, waiters int) {
			c.metricInc(MetricRenewalFailure)
			c.metrics.Observe(MetricRenewalLatency, d)
			c.metrics.Add(MetricWaitersRejected, uint64(waiters))
			c.emitAudit(context.Background(), AuditRenewalFailure, false, "", err, func() map[string]string {
				return map[string]string{
					"waiters":     strconv.Itoa(waiters),
					"duration_ms": strconv.FormatInt(d.Milliseconds(), 10),
				}
			})
		},
	}
}

func (c *Client) sessionHooks() session.Hooks {
	return session.Hooks{
		OnCleared: func() {
			c.metricInc(MetricSessionCleared)
			c.emitAudit(context.Background(), AuditSessionCleared, true, "", nil, nil)
		},
		OnRedirect: func(path string) {
			c.metricInc(MetricRedirectIssued)
			c.emitAudit(context.Background(), AuditRedirect, true, "", nil, func() map[string]string {
				return map[string]string{"path": path}
			})
		},
		OnSuppressed: func() { c.metricInc(MetricRedirectSuppressed) },
	}
}
