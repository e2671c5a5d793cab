package tokenpipe

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/tokenpipe/credentials"
	"github.com/MrEthical07/tokenpipe/identity"
	"github.com/MrEthical07/tokenpipe/internal/rate"
	"github.com/MrEthical07/tokenpipe/refresh"
	"github.com/MrEthical07/tokenpipe/session"
	"github.com/MrEthical07/tokenpipe/transport"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles a [Client]. A Builder is single use: Build fails the second time.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  credentials.Store

	transport  transport.Client
	httpClient *http.Client
	renewer    refresh.Renewer

	navigator session.Navigator
	notifier  session.Notifier
	logger    logrus.FieldLogger
	auditSink AuditSink

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Config.Transport.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.Transport.BaseURL = baseURL
	return b
}

// WithStore sets the credential store. It takes precedence over WithRedis.
func (b *Builder) WithStore(store credentials.Store) *Builder {
	b.store = store
	return b
}

// WithRedis stores credentials in Redis and, when the throttle is enabled, shares the
// renewal rate limit through Redis as well. Without a store or a Redis client the
// credentials live in memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTransport replaces the HTTP transport entirely.
func (b *Builder) WithTransport(tr transport.Client) *Builder {
	b.transport = tr
	return b
}

// WithHTTPClient sets the *http.Client the default transport copies.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithRenewer replaces the identity endpoint as the source of renewed credentials.
func (b *Builder) WithRenewer(r refresh.Renewer) *Builder {
	b.renewer = r
	return b
}

// WithNavigator sets where the user is sent after the session is lost.
func (b *Builder) WithNavigator(nav session.Navigator) *Builder {
	b.navigator = nav
	return b
}

// WithNotifier sets the sink for user-visible notices.
func (b *Builder) WithNotifier(n session.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink enables auditing to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the client.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transport.BaseURL == "" {
		return nil, errors.New("Transport BaseURL required")
	}

	log := b.logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	// -------- CREDENTIAL STORE --------
	store := b.store
	if store == nil {
		if b.redis != nil {
			store = credentials.NewRedisStore(b.redis, credentials.RedisConfig{
				Prefix: cfg.Store.RedisPrefix,
				TTL:    cfg.Store.TTL,
			})
		} else {
			store = credentials.NewMemoryStore()
		}
	}

	// -------- TRANSPORT --------
	tr := b.transport
	if tr == nil {
		tr = transport.NewHTTP(b.httpClient, transport.Config{
			Timeout:      cfg.Transport.Timeout,
			UserAgent:    cfg.Transport.UserAgent,
			MaxBodyBytes: cfg.Transport.MaxBodyBytes,
		})
	}

	// -------- IDENTITY ENDPOINTS --------
	idc := identity.New(tr, identity.Config{
		BaseURL:       cfg.Transport.BaseURL,
		RefreshPath:   cfg.Refresh.Path,
		RefreshParam:  cfg.Refresh.Param,
		RefreshInBody: cfg.Refresh.InBody,
		LoginPath:     cfg.Account.LoginPath,
		LogoutPath:    cfg.Account.LogoutPath,
		SuccessCode:   cfg.Envelope.SuccessCode,
	})
	var renewer refresh.Renewer = idc
	if b.renewer != nil {
		renewer = b.renewer
	}

	c := &Client{
		config:    cfg,
		store:     store,
		transport: tr,
		identity:  idc,
		notifier:  b.notifier,
		log:       log,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		now:       time.Now,
	}

	// -------- SESSION FAILURE HANDLER --------
	c.session = session.NewHandler(store, b.navigator, b.notifier, session.Config{
		LoginPath:      cfg.Session.LoginPage,
		EntryPaths:     cloneStrings(cfg.Session.EntryPages),
		ExpiredMessage: cfg.Session.ExpiredMessage,
	}, session.WithLogger(log), session.WithHooks(c.sessionHooks()))

	// -------- RENEWAL COORDINATOR --------
	opts := []refresh.Option{
		refresh.WithLogger(log),
		refresh.WithHooks(c.renewalHooks()),
	}
	if cfg.Refresh.EnableThrottle {
		rc := rate.Config{MaxAttempts: cfg.Refresh.MaxAttempts, Window: cfg.Refresh.Window}
		if b.redis != nil {
			opts = append(opts, refresh.WithThrottle(rate.NewRedis(b.redis, cfg.Store.RedisPrefix, rc)))
		} else {
			opts = append(opts, refresh.WithThrottle(rate.NewLocal(rc)))
		}
	}
	c.coordinator = refresh.New(refresh.Config{Timeout: cfg.Refresh.Timeout}, renewer, store, c.session, opts...)

	b.built = true
	return c, nil
}
