package tokenpipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/identity"
	"github.com/MrEthical07/tokenpipe/session"
	"github.com/MrEthical07/tokenpipe/transport"
)

// Login exchanges a username and password for credentials, stores them along with the
// returned user info and re-arms the session failure handler.
func (c *Client) Login(ctx context.Context, username, password string) (identity.Grant, error) {
	if c == nil || c.identity == nil {
		return identity.Grant{}, ErrClientNotReady
	}

	grant, err := c.identity.Login(ctx, username, password)
	if err == nil && grant.AccessToken == "" {
		err = errors.New("login response carried no access token")
	}
	if err != nil {
		c.metricInc(MetricLoginFailure)
		c.emitAudit(ctx, AuditLogin, false, username, err, nil)
		if errors.Is(err, transport.ErrNoResponse) {
			c.notify(ctx, session.LevelError, msgTransport, err)
			return identity.Grant{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return identity.Grant{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	if err := c.store.Set(ctx, grant.Credentials); err != nil {
		c.metricInc(MetricLoginFailure)
		c.emitAudit(ctx, AuditLogin, false, username, err, nil)
		return identity.Grant{}, fmt.Errorf("store credentials: %w", err)
	}
	if !grant.Identity.Empty() {
		if err := c.store.SetIdentity(ctx, grant.Identity); err != nil {
			c.log.WithError(err).Warn("store user info after login")
		}
	}
	c.session.Rearm()

	c.metricInc(MetricLoginSuccess)
	c.emitAudit(ctx, AuditLogin, true, username, nil, nil)
	return grant, nil
}

// Logout tells the backend the session is over, then clears stored credentials. The
// backend call is best effort: its failure is logged and the local state is cleared
// anyway.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.identity == nil {
		return ErrClientNotReady
	}

	creds, err := c.store.Get(ctx)
	if err != nil {
		c.log.WithError(err).Warn("read credentials before logout")
	}
	if creds.AccessToken != "" {
		if err := c.identity.Logout(ctx, creds.AccessToken); err != nil {
			c.log.WithError(err).Debug("logout request failed")
		}
	}

	c.metricInc(MetricLogout)
	if err := c.store.Clear(ctx); err != nil {
		c.emitAudit(ctx, AuditLogout, false, "", err, nil)
		return fmt.Errorf("clear credentials: %w", err)
	}
	c.emitAudit(ctx, AuditLogout, true, "", nil, nil)
	return nil
}

// CurrentUser fetches the signed-in user's info through the pipeline and caches it.
func (c *Client) CurrentUser(ctx context.Context) (credentials.Identity, error) {
	resp, err := c.Get(ctx, c.config.Account.UserInfoPath, nil)
	if err != nil {
		return nil, err
	}

	raw := []byte(resp.Data)
	if !resp.HasCode {
		raw = resp.Body
	}
	id := credentials.Identity(raw)
	if id.Empty() {
		return nil, nil
	}
	if err := c.store.SetIdentity(ctx, id); err != nil {
		c.log.WithError(err).Warn("cache user info")
	}
	return id, nil
}

// CachedUser returns the user info stored at login or by the last CurrentUser call.
func (c *Client) CachedUser(ctx context.Context) (credentials.Identity, error) {
	if c == nil || c.store == nil {
		return nil, ErrClientNotReady
	}
	return c.store.Identity(ctx)
}
