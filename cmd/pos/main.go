package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/studio-pos/internal/backend"
	"github.com/noah-isme/studio-pos/internal/cart"
	"github.com/noah-isme/studio-pos/internal/catalog"
	"github.com/noah-isme/studio-pos/internal/checkout"
	"github.com/noah-isme/studio-pos/internal/config"
	"github.com/noah-isme/studio-pos/internal/health"
	"github.com/noah-isme/studio-pos/internal/obs"
	"github.com/noah-isme/studio-pos/internal/terminal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("lane_id", cfg.LaneID).
		Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "studio-pos",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	backendClient, err := backend.New(backend.Config{
		BaseURL:  cfg.BackendBaseURL,
		APIToken: cfg.BackendAPIToken,
		TenantID: cfg.TenantID,
		Timeout:  cfg.BackendTimeout,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise backend client")
	}

	catalogService := &catalog.Service{
		Backend: backendClient,
		TTL:     time.Minute,
		Logger:  logger,
	}

	cartStore := &cart.Store{Validator: backendClient}

	var terminalController *terminal.Controller
	if cfg.TerminalEnabled() {
		driver, err := terminal.NewStripeDriver(cfg.StripeAPIKey, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise terminal driver")
		}
		terminalController = &terminal.Controller{
			Driver: driver,
			Tokens: backendClient,
			Logger: logger,
		}
	} else {
		logger.Warn().Msg("no stripe key configured; terminal payments disabled")
	}

	orchestrator := &checkout.Orchestrator{
		Cart:           cartStore,
		Intents:        backendClient,
		Orders:         backendClient,
		Logger:         logger,
		CollectTimeout: cfg.CollectTimeout,
	}
	if terminalController != nil {
		orchestrator.Terminal = terminalController
	}

	validate := validator.New()
	cartHandler := &cart.Handler{Store: cartStore, Products: catalogService, Validate: validate}
	checkoutHandler := &checkout.Handler{Orchestrator: orchestrator, Validate: validate, Logger: logger}
	catalogHandler := &catalog.Handler{Service: catalogService}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)

	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse rate limit")
	}
	rateMiddleware := mhttp.NewMiddleware(limiter.New(memory.NewStore(), rate))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger, LaneID: cfg.LaneID}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(rateMiddleware.Handler)

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Checker:        backendClient,
		BackendTimeout: 500 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/pos", func(p chi.Router) {
		p.Get("/products", catalogHandler.Products)
		p.Get("/customers", catalogHandler.Customers)

		p.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Delete("/", cartHandler.Clear)
			c.Post("/items", cartHandler.AddItem)
			c.Delete("/items/{productId}", cartHandler.RemoveItem)
			c.Post("/coupon", cartHandler.ApplyCoupon)
			c.Delete("/coupon", cartHandler.RemoveCoupon)
		})

		if terminalController != nil {
			terminalHandler := &terminal.Handler{Controller: terminalController, Validate: validate}
			p.Route("/terminal", func(tr chi.Router) {
				tr.Get("/readers", terminalHandler.Readers)
				tr.Post("/connect", terminalHandler.Connect)
				tr.Post("/disconnect", terminalHandler.Disconnect)
			})
		}

		p.Post("/checkout", checkoutHandler.Submit)
		p.Get("/checkout/state", checkoutHandler.State)
		p.Post("/checkout/customer", checkoutHandler.SetCustomer)
		p.Post("/checkout/reconciliation/ack", checkoutHandler.AcknowledgeReconciliation)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("lane agent starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("lane agent stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
