package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/vetclinic-pos/internal/backend"
	"github.com/xenking/vetclinic-pos/internal/domain/appointment"
	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
	"github.com/xenking/vetclinic-pos/internal/domain/reconcile"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
	"github.com/xenking/vetclinic-pos/internal/gateway/stripe"
	"github.com/xenking/vetclinic-pos/internal/handler"
	"github.com/xenking/vetclinic-pos/internal/notify"
	"github.com/xenking/vetclinic-pos/internal/storage/postgres"
	"github.com/xenking/vetclinic-pos/internal/storage/redis"
	"github.com/xenking/vetclinic-pos/pkg/health"
	"github.com/xenking/vetclinic-pos/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(rdb))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Remote collaborators.
	remote, err := backend.New(cfg.Backend, nil,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}
	gateway, err := stripe.New(ctx, cfg.Stripe)
	if err != nil {
		return errors.Wrap(err, "create stripe gateway")
	}
	guard, err := redis.NewGuard(rdb, cfg.Payment.GuardTTL, "payments")
	if err != nil {
		return errors.Wrap(err, "create reconciliation guard")
	}

	var limiter httpmiddleware.Counter = redis.NewRateCounter(rdb)
	if !cfg.RateLimit.Shared && cfg.RateLimit.Window > 0 {
		local := httpmiddleware.NewMemoryCounter()
		local.EvictEvery(ctx, 2*cfg.RateLimit.Window)
		limiter = local
	}

	// Domain services.
	rate, err := cfg.Pricing.Rate()
	if err != nil {
		return err
	}
	calc, err := pricing.NewCalculator(rate)
	if err != nil {
		return errors.Wrap(err, "create calculator")
	}
	carts := cart.NewRegistry()
	sessions := payment.NewSessions(gateway, payment.SessionConfig{
		ReturnURL:       cfg.Payment.ReturnURL,
		ConfirmationURL: cfg.Payment.ConfirmationURL,
		NavigateAfter:   cfg.Payment.NavigateAfter,
	})
	coordinator := sale.NewCoordinator(sale.CoordinatorParams{
		Carts:      carts,
		Calculator: calc,
		Recorder:   remote,
		Intents:    remote,
		Sales:      saleRepo,
		Ledger:     paymentRepo,
		Sessions:   sessions,
		Tracer:     m.TracerProvider().Tracer("vetpos/sale"),
	})
	appointments := appointment.NewService(remote, calc, remote, paymentRepo, sessions)

	var verifier reconcile.Verifier
	if cfg.Payment.VerifyReturns {
		verifier = gateway
	}
	feed := notify.NewFeed(notify.DefaultCapacity)
	reconciler := reconcile.NewReconciler(paymentRepo, payment.CompletionRouter{
		payment.PayableSale:        coordinator,
		payment.PayableAppointment: appointments,
	}, feed, guard, verifier)

	// HTTP handlers.
	h, err := handler.New(handler.Config{
		CurrencySymbol: cfg.Pricing.CurrencySymbol,
		ReturnViewURL:  cfg.Payment.ReturnViewURL,
	}, handler.Params{
		Carts:        carts,
		Catalog:      catalogRepo,
		Calculator:   calc,
		Sales:        coordinator,
		Appointments: appointments,
		Reconciler:   reconciler,
		Feed:         feed,
		Security:     handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper)),
		Meter:        m.MeterProvider().Meter("vetpos/handler"),
	})
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Router: health endpoints + API routes on one server.
	router := h.Routes()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Accept", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:       cfg.RateLimit.Max,
				Window:    cfg.RateLimit.Window,
				KeyHeader: handler.APIKeyHeader,
			}, limiter),
			httpmiddleware.Routing(),
			httpmiddleware.Instrument("vetpos-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
