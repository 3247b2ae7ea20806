// Package client assembles the transport and session-security layer into one
// explicitly owned context object.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/auth"
	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/config"
	"github.com/spec-kit/sorting-kiosk/internal/csrf"
	"github.com/spec-kit/sorting-kiosk/internal/events"
	"github.com/spec-kit/sorting-kiosk/internal/observability"
	"github.com/spec-kit/sorting-kiosk/internal/persistence"
	"github.com/spec-kit/sorting-kiosk/internal/ratelimit"
	"github.com/spec-kit/sorting-kiosk/internal/service"
	"github.com/spec-kit/sorting-kiosk/internal/session"
	"github.com/spec-kit/sorting-kiosk/internal/transport"
	"github.com/spec-kit/sorting-kiosk/internal/worker"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// Client owns every component of the layer for one kiosk session.
type Client struct {
	Config      *config.Config
	Logger      *zap.Logger
	Clock       clock.Clock
	Stores      *persistence.Stores
	Credentials *auth.CredentialStore
	CSRF        *csrf.Manager
	Limiter     *ratelimit.Limiter
	Router      *transport.Router
	Guard       *session.Guard
	Navigator   *session.Tracker
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics

	Auth          *service.AuthService
	Kiosk         *service.KioskService
	Notifications *service.NotificationService

	watch *worker.CredentialWatch
}

// Readiness reports the state of each dependency.
type Readiness struct {
	Authenticated    bool              `json:"authenticated"`
	AntiForgery      csrf.Snapshot     `json:"anti_forgery"`
	StreamConnected  bool              `json:"stream_connected"`
	StorageReachable bool              `json:"storage_reachable"`
	Session          session.Status    `json:"session"`
	Errors           map[string]string `json:"errors,omitempty"`
}

// Option customizes construction.
type Option func(*options)

type options struct {
	clock      clock.Clock
	httpClient *http.Client
	stores     *persistence.Stores
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithHTTPClient replaces the HTTP client shared by the point channel and the
// anti-forgery manager.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStores uses already opened stores instead of opening them from config.
func WithStores(s *persistence.Stores) Option {
	return func(o *options) { o.stores = s }
}

// New builds and starts the layer: legacy credentials are migrated, the
// anti-forgery token is fetched and the session guard is armed if a
// credential is held.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	logger = observability.OrNop(logger)
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	clk := o.clock
	if clk == nil {
		clk = clock.Real()
	}

	httpClient := o.httpClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: cfg.API.RequestTimeout}
	}

	stores := o.stores
	if stores == nil {
		var err error
		stores, err = persistence.Open(ctx, *cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		Config:     cfg,
		Logger:     logger,
		Clock:      clk,
		Stores:     stores,
		Dispatcher: events.NewInMemoryDispatcher(),
		Metrics:    observability.NewMetrics(),
		Limiter:    ratelimit.NewLimiter(clk),
		Navigator:  session.NewTracker(),
	}

	c.Credentials = auth.NewCredentialStore(stores.Session, stores.Legacy, clk, logger.Named("credentials"))
	if migrated, err := c.Credentials.MigrateLegacy(ctx); err != nil {
		logger.Warn("legacy credential migration failed", zap.Error(err))
	} else if migrated {
		logger.Info("legacy credential migrated to session storage")
	}

	c.CSRF = csrf.NewManager(cfg.API.CSRFURL, httpClient, cfg.CSRF, clk, logger.Named("csrf"))

	stream := transport.NewStream(transport.StreamOptions{
		URL:         cfg.API.StreamURL,
		Credentials: c.Credentials,
		MaxBackoff:  cfg.API.StreamMaxBackoff,
		Logger:      logger.Named("stream"),
	})
	c.Router = transport.NewRouter(transport.Options{
		PointURL:          cfg.API.PointURL,
		UploadURL:         cfg.API.UploadURL,
		HTTPClient:        httpClient,
		Stream:            stream,
		Credentials:       c.Credentials,
		AntiForgery:       c.CSRF,
		Notifier:          transport.NewEventNotifier(c.Dispatcher, logger),
		Metrics:           c.Metrics,
		Logger:            logger.Named("transport"),
		Clock:             clk,
		SlowCallThreshold: cfg.API.SlowCallThreshold,
	})

	c.Guard = session.NewGuard(cfg.Session, c.Credentials, c.Navigator, c.Dispatcher, clk, logger.Named("session"))
	c.Guard.OnExpire(func(context.Context) {
		c.CSRF.Clear()
		c.Router.Reset()
	})
	c.Router.OnUnauthenticated(func(ctx context.Context, _ *apperrors.Descriptor) {
		c.Guard.Invalidate(ctx, session.ReasonUnauthenticated)
	})

	c.Auth = service.NewAuthService(service.AuthDependencies{
		Router:      c.Router,
		Credentials: c.Credentials,
		Limiter:     c.Limiter,
		CSRF:        c.CSRF,
		Guard:       c.Guard,
		Dispatcher:  c.Dispatcher,
		Clock:       clk,
		Logger:      logger.Named("auth"),
	})
	c.Kiosk = service.NewKioskService(c.Router, c.Limiter, logger.Named("kiosk"))
	c.Notifications = service.NewNotificationService(c.Dispatcher, logger.Named("notifications"), cfg.API.NotificationHistory)

	c.watch = worker.NewCredentialWatch(c.Credentials, c.Guard, logger.Named("worker"))
	if err := worker.Start(c.Notifications, c.watch, cfg.Session.CheckInterval); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.CSRF.Initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.Guard.Start(ctx)
	return c, nil
}

// Ready collects the readiness of every dependency.
func (c *Client) Ready(ctx context.Context) Readiness {
	r := Readiness{
		Authenticated:   c.Credentials.IsAuthenticated(ctx),
		AntiForgery:     c.CSRF.Snapshot(),
		StreamConnected: c.Router.Stream() != nil && c.Router.Stream().Connected(),
		Session:         c.Guard.Status(),
	}
	if err := c.Stores.Ping(ctx); err != nil {
		r.Errors = map[string]string{"storage": err.Error()}
	} else {
		r.StorageReachable = true
	}
	return r
}

// Close stops timers, the stream and backend connections.
func (c *Client) Close() {
	if c.watch != nil {
		c.watch.Stop()
	}
	if c.CSRF != nil {
		c.CSRF.Stop()
	}
	if c.Guard != nil {
		c.Guard.Stop()
	}
	if c.Router != nil {
		c.Router.Close()
	}
	c.Stores.Close()
}
