package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"expensedash/internal/amqp"
	"expensedash/internal/api"
	"expensedash/internal/cache"
	"expensedash/internal/config"
	"expensedash/internal/core"
	applog "expensedash/internal/log"
	"expensedash/internal/records"
	"expensedash/internal/session"
	"expensedash/internal/storage"
)

// App is the wired set of services both binaries run on.
type App struct {
	Config   *config.Config
	Logger   *applog.Logger
	Sessions *session.Store
	Gateway  *api.Gateway
	Auth     *api.Auth
	Records  *records.Repository
	// Feed is nil when no AMQP URL is configured or the broker was
	// unreachable at startup.
	Feed *amqp.Client

	caches  *cache.Manager
	closers []io.Closer
}

// OpenSessionSlot returns the durable slot selected by SESSION_BACKEND and
// a closer for it.
func OpenSessionSlot(cfg *config.Config) (session.Slot, io.Closer, error) {
	switch cfg.SessionBackend {
	case config.SessionSQLite:
		slot, err := storage.OpenSessionSlot(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite session slot: %w", err)
		}
		return slot, slot, nil
	case config.SessionMemory:
		return session.NewMemorySlot(), nopCloser{}, nil
	default:
		return session.NewFileSlot(cfg.SessionFile), nopCloser{}, nil
	}
}

// NewApp wires sessions, the API gateway, the repository and, when
// configured, the AMQP change feed. A broker that cannot be reached only
// disables the feed.
func NewApp(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*App, error) {
	slot, closer, err := OpenSessionSlot(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger, closers: []io.Closer{closer}}

	app.Sessions = session.Open(ctx, slot, logger)
	app.Gateway = api.New(api.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Tokens:  app.Sessions,
		Logger:  logger,
	})
	app.Auth = api.NewAuth(app.Gateway, logger)

	var notifier records.Notifier
	if cfg.AMQPEnabled() {
		feed, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Change feed disabled, broker unreachable", applog.FieldError, err)
		} else {
			app.Feed = feed
			app.closers = append(app.closers, feed)
			notifier = feed
		}
	}

	app.caches = cache.NewManager(logger)
	app.Records = records.New(app.Gateway, records.Options{
		CacheTTL:  cfg.ListCacheTTL,
		CacheSize: cfg.ListCacheSize,
		Notifier:  notifier,
		Logger:    logger,
		Manager:   app.caches,
	})
	if cfg.ListCacheTTL > 0 {
		app.caches.StartCleanup(cfg.ListCacheTTL)
	}
	return app, nil
}

// CurrentUser returns the logged in user or an auth error.
func (a *App) CurrentUser() (core.User, error) {
	u, ok := a.Sessions.User()
	if !ok {
		return core.User{}, core.NewError(core.KindAuth, "not logged in", nil)
	}
	return u, nil
}

// WatchChanges invalidates cached lists as change messages arrive. It
// returns when ctx is done, or immediately when no feed is configured.
func (a *App) WatchChanges(ctx context.Context, onChange func(core.Change)) error {
	if a.Feed == nil {
		return nil
	}
	err := a.Feed.ConsumeChanges(ctx, func(ctx context.Context, c core.Change) error {
		if c.OwnerID.IsZero() {
			a.Records.InvalidateAll()
		} else {
			a.Records.Invalidate(c.OwnerID)
		}
		if onChange != nil {
			onChange(c)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the feed, the session slot and the cache janitor.
func (a *App) Close() error {
	a.caches.Stop()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
