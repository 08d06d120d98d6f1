package cli

import (
	"context"
	"errors"
	"fmt"

	"budgetbuddy/internal/amqp"
	"budgetbuddy/internal/api"
	"budgetbuddy/internal/backend"
	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/config"
	"budgetbuddy/internal/guard"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
	"budgetbuddy/internal/session"
	"budgetbuddy/internal/storage"
	"budgetbuddy/internal/worker"
)

// App holds the components every command works with.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Session *session.Store
	Cache   *cache.Cache
	Budget  *services.BudgetService
	Guard   *guard.Guard

	store   storage.Store
	broker  *amqp.Client
	manager *cache.Manager
	cleanup backend.CleanupFunc
}

// Bootstrap opens durable storage, restores the persisted session and wires
// the API client, cache and budget service. When AMQP_URL is set, mutations
// are announced to other instances; an unreachable broker only disables that.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sess := session.New(res.Store, logger)
	sess.Initialize(ctx)

	client, err := api.New(cfg.APIBaseURL, sess, cfg.APITimeout, api.WithLogger(logger))
	if err != nil {
		_ = res.Cleanup()
		return nil, fmt.Errorf("create API client: %w", err)
	}

	c := cache.New(cache.Options{
		GCTime:       cfg.CacheGCTime,
		FetchTimeout: cfg.APITimeout,
		Logger:       logger,
	})
	manager := cache.NewManager(logger)
	manager.Register(c)
	manager.StartCleanup(cfg.CacheCleanupInterval)

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Session: sess,
		Cache:   c,
		Guard:   guard.New(sess, logger),
		store:   res.Store,
		manager: manager,
		cleanup: res.Cleanup,
	}

	opts := services.Options{ForceLogout: cfg.AuthForceLogout, Logger: logger}
	if cfg.AMQPURL != "" {
		broker, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, cache invalidations stay local", log.FieldError, err)
		} else {
			app.broker = broker
			opts.Publisher = broker
		}
	}
	app.Budget = services.NewBudgetService(sess, client, c, opts)
	return app, nil
}

// Listener returns the invalidation listener for this instance, or nil when
// no broker is connected.
func (a *App) Listener() *worker.InvalidationListener {
	if a.broker == nil {
		return nil
	}
	return worker.NewInvalidationListener(a.broker, a.Cache, a.broker.Origin(), a.Logger)
}

// Ready reports whether durable storage answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.store.Get(ctx, session.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	a.manager.Stop()
	var errs []error
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	if a.cleanup != nil {
		errs = append(errs, a.cleanup())
	}
	return errors.Join(errs...)
}
