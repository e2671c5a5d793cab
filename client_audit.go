package tokenpipe

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/identity"
	"github.com/MrEthical07/tokenpipe/refresh"
	"github.com/MrEthical07/tokenpipe/transport"
)

// AuditErrorCode is the coarse failure reason recorded in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrNoRefreshToken AuditErrorCode = "no_refresh_token"
	auditErrRejected       AuditErrorCode = "rejected"
	auditErrInvalidGrant   AuditErrorCode = "invalid_grant"
	auditErrThrottled      AuditErrorCode = "throttled"
	auditErrTimeout        AuditErrorCode = "timeout"
	auditErrTransport      AuditErrorCode = "transport"
	auditErrUnavailable    AuditErrorCode = "store_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func (c *Client) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	username string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: RequestIDFromContext(ctx),
		Username:  username,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.audit.Emit(ctx, event)
}

// auditErrorCode never returns err.Error(): identity endpoint messages may echo input.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, refresh.ErrNoRefreshToken):
		return auditErrNoRefreshToken
	case errors.Is(err, refresh.ErrEmptyAccessToken):
		return auditErrInvalidGrant
	case errors.Is(err, refresh.ErrThrottled):
		return auditErrThrottled
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	case errors.Is(err, identity.ErrRejected):
		return auditErrRejected
	case errors.Is(err, transport.ErrNoResponse):
		return auditErrTransport
	case errors.Is(err, credentials.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
