// Package app wires the checkout engine into an HTTP service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/scanbill/internal/domain/auth"
	"github.com/xenking/scanbill/internal/domain/cart"
	"github.com/xenking/scanbill/internal/domain/checkout"
	"github.com/xenking/scanbill/internal/domain/order"
	"github.com/xenking/scanbill/internal/domain/payment"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
	"github.com/xenking/scanbill/internal/events/kafka"
	"github.com/xenking/scanbill/internal/handler"
	"github.com/xenking/scanbill/internal/storage/cache"
	"github.com/xenking/scanbill/internal/storage/memory"
	"github.com/xenking/scanbill/internal/storage/postgres"
	"github.com/xenking/scanbill/pkg/health"
	"github.com/xenking/scanbill/pkg/httpmiddleware"
)

// stores groups the storage ports of one backend.
type stores struct {
	ledger  unit.Ledger
	catalog product.Catalog
	carts   cart.Store
	orders  order.Repository
	apiKeys auth.Repository
	mem     *memory.Store
	close   func()
}

// service is the wired application without its listener.
type service struct {
	handler http.Handler
	health  *health.Health
	sweeper *checkout.Sweeper
	// mem is set for the memory backend.
	mem     *memory.Store
	closers []func()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Run creates all dependencies, starts the HTTP server and the orphan
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	svc, err := newService(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)

	if svc.sweeper != nil {
		g.Go(func() error {
			lg.Info("Sweeper started",
				zap.Duration("lease", cfg.Reconcile.Lease),
				zap.Duration("interval", cfg.Reconcile.Interval),
			)
			return svc.sweeper.Run(gctx, cfg.Reconcile.Interval)
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newService opens storage and builds the domain services and the HTTP
// handler chain. The caller must close the returned service.
func newService(ctx context.Context, lg *zap.Logger, t httpmiddleware.TelemetryProvider, cfg *Config) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	svc.health.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	st, err := openStores(ctx, cfg, svc.health)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, st.close)
	svc.mem = st.mem

	// Checkout reads carts past the cache.
	cartSource := st.carts
	if cfg.Redis.Enabled() {
		rdb, err := newRedisClient(cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, "create redis client")
		}
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })

		svc.health.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis",
			health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		))
		st.carts = cache.NewCartStore(st.carts, rdb, cfg.Redis.CartTTL)
	}

	var publisher order.Publisher = order.NopPublisher{}
	if cfg.Kafka.Brokers != "" {
		w, err := kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, errors.Wrap(err, "create kafka writer")
		}
		p := kafka.NewPublisher(w)
		svc.closers = append(svc.closers, func() {
			if err := p.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		})
		publisher = p
	}

	pricer, err := cfg.Checkout.Pricer()
	if err != nil {
		return nil, errors.Wrap(err, "pricer")
	}

	// Domain services.
	carts := cart.NewService(st.carts, st.ledger, st.catalog, st.orders).WithSource(cartSource)
	coordinator, err := checkout.NewCoordinator(carts, st.ledger, st.orders, checkout.Options{
		Pricer:               pricer,
		Publisher:            publisher,
		Timeout:              cfg.Checkout.Timeout,
		ReleaseTimeout:       cfg.Checkout.ReleaseTimeout,
		DefaultPaymentMethod: order.PaymentMethod(cfg.Checkout.PaymentMethod),
		Currency:             cfg.Checkout.Currency,
		MeterProvider:        t.MeterProvider(),
		TracerProvider:       t.TracerProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout coordinator")
	}
	payments := payment.NewService(st.orders, publisher, order.PaymentMethod(cfg.Checkout.OnlineMethod))

	if cfg.Reconcile.Enabled {
		svc.sweeper, err = checkout.NewSweeper(st.ledger, cfg.Reconcile.Lease, t.MeterProvider())
		if err != nil {
			return nil, errors.Wrap(err, "create sweeper")
		}
		// A stuck sweeper leaves orphaned units unsellable.
		svc.health.AddLivenessCheck("sweeper", time.Second,
			health.HeartbeatCheck(svc.sweeper.LastPass, 3*cfg.Reconcile.Interval+cfg.Reconcile.Lease))
	}

	deps := handler.Deps{
		Carts:    carts,
		Checkout: coordinator,
		Orders:   st.orders,
		Catalog:  st.catalog,
		Units:    st.ledger,
		Payments: payments,
	}
	if cfg.APIKeyPepper != "" {
		deps.Auth = auth.NewAuthenticator(st.apiKeys, []byte(cfg.APIKeyPepper))
	} else {
		lg.Warn("API key pepper is not set, staff routes are open")
	}
	h := handler.NewHandler(deps)

	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests(), httpmiddleware.Labeler())
	r.Get("/livez", svc.health.LiveEndpoint)
	r.Get("/readyz", svc.health.ReadyEndpoint)
	r.Mount("/api", h.Routes())

	svc.handler = httpmiddleware.Wrap(r,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    httpmiddleware.DefaultExposeHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.APIKeyOrIP(handler.APIKeyHeader),
			Skip:    httpmiddleware.SkipPaths("/livez", "/readyz"),
		}),
		httpmiddleware.Instrument("scanbill-api", t),
	)
	return svc, nil
}

func openStores(ctx context.Context, cfg *Config, healthSvc *health.Health) (*stores, error) {
	if cfg.Storage == StorageMemory {
		s := memory.New()
		return &stores{
			ledger:  s,
			catalog: s,
			carts:   s.Carts(),
			orders:  s,
			apiKeys: s,
			mem:     s,
			close:   func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))

	return &stores{
		ledger:  postgres.NewLedgerRepository(pool),
		catalog: postgres.NewCatalogRepository(pool),
		carts:   postgres.NewCartRepository(pool),
		orders:  postgres.NewOrderRepository(pool),
		apiKeys: postgres.NewAPIKeyRepository(pool),
		close:   pool.Close,
	}, nil
}

func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
