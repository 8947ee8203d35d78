package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/beanpay/internal/auth"
	"github.com/noah-isme/beanpay/internal/config"
	"github.com/noah-isme/beanpay/internal/health"
	"github.com/noah-isme/beanpay/internal/journal"
	"github.com/noah-isme/beanpay/internal/obs"
	"github.com/noah-isme/beanpay/internal/payment"
	"github.com/noah-isme/beanpay/internal/ratelimit"
	"github.com/noah-isme/beanpay/internal/resilience"
	"github.com/noah-isme/beanpay/internal/security"
	"github.com/noah-isme/beanpay/internal/session"
	"github.com/noah-isme/beanpay/internal/upstream"
	"github.com/noah-isme/beanpay/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "beanpay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "beanpay-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "beanpay-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	if err := journal.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for tasks")
	}
	taskClient := asynq.NewClient(taskRedis)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	backend := upstream.NewClient(
		cfg.UpstreamBaseURL,
		cfg.SessionCookieName,
		cfg.UpstreamTimeout,
		resilience.NewBreaker(10, 0.5, 30*time.Second),
		logger.With().Str("component", "upstream").Logger(),
	)
	backend.RetryMax = cfg.UpstreamRetryMax
	backend.HTTP.BaseBackoff = cfg.UpstreamRetryBackoff
	backend.HTTP.Jitter = 0.2

	journalStore := &journal.Store{Pool: pool}
	expiry := &worker.Scheduler{Client: taskClient}

	sessionStore := &session.Store{
		Backend: backend,
		Logger:  logger.With().Str("component", "session").Logger(),
	}
	sessionHandler := &session.Handler{Store: sessionStore}

	paymentSvc := &payment.Service{
		Backend:   backend,
		Journal:   journalStore,
		Expiry:    expiry,
		Validate:  validator.New(),
		Logger:    logger.With().Str("component", "payment").Logger(),
		ClientKey: cfg.TossClientKey,
		BaseURL:   cfg.PublicBaseURL,
		IntentTTL: cfg.IntentTTL,
	}
	flow := &payment.Flow{
		Backend:             backend,
		Sessions:            sessionStore,
		Guard:               &payment.Guard{R: redisClient, TTL: cfg.ConfirmGuardTTL},
		Journal:             journalStore,
		Logger:              logger.With().Str("component", "confirm").Logger(),
		HomePath:            "/",
		TopupRetryPath:      "/topup",
		MembershipRetryPath: "/memberships",
		AutoRedirectSeconds: cfg.AutoRedirectSeconds,
	}
	paymentHandler := &payment.Handler{
		Svc:      paymentSvc,
		Flow:     flow,
		History:  backend,
		Logger:   logger.With().Str("component", "payment").Logger(),
		Cache:    redisClient,
		CacheTTL: cfg.HistoryCacheTTL,
	}

	authMW := auth.Middleware{
		CookieName: cfg.SessionCookieName,
		Secret:     []byte(cfg.SessionJWTSecret),
		LoginURL:   cfg.LoginURL,
		Prefixes:   cfg.ProtectedPrefixes,
		ClockSkew:  30 * time.Second,
	}

	intentLimiter, err := ratelimit.New(redisClient, limiter.Rate{
		Period: time.Minute,
		Limit:  cfg.IntentRatePerMinute,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	throttle := ratelimit.Handler{
		Limiter: intentLimiter,
		Key:     ratelimit.ByUserOrIP,
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker: health.Probes{
			Pool:        pool,
			Redis:       redisClient,
			UpstreamURL: cfg.UpstreamBaseURL,
		},
		DBTimeout:       envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout:    envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		UpstreamTimeout: envDurationMillis("HEALTH_READY_UPSTREAM_TIMEOUT_MS", 1000),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Group(func(protected chi.Router) {
		protected.Use(authMW.Protect)

		// Redirect landing routes the hosted widget bounces back to.
		protected.Get("/payments/success", paymentHandler.TopupSuccess)
		protected.Get("/payments/fail", paymentHandler.TopupFail)
		protected.Get("/billing/success", paymentHandler.BillingSuccess)
		protected.Get("/billing/fail", paymentHandler.BillingFail)

		protected.Route("/api/v1", func(v chi.Router) {
			v.Get("/session", sessionHandler.Get)
			v.With(security.CSRF{}.Middleware).Post("/session/refresh", sessionHandler.Refresh)

			v.Get("/payments/history", paymentHandler.PaymentHistory)
			v.Group(func(g chi.Router) {
				g.Use(security.CSRF{}.Middleware)
				g.Use(throttle.Middleware)
				g.Post("/payments/topup/intent", paymentHandler.TopupIntent)
				g.Post("/memberships/{itemId}/intent", paymentHandler.MembershipIntent)
			})
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{cfg.PublicBaseURL}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
