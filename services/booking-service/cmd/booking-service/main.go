package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/algotwist369/bookby247/libs/config"
	"github.com/algotwist369/bookby247/libs/db"
	"github.com/algotwist369/bookby247/libs/httpx"
	"github.com/algotwist369/bookby247/libs/kafkax"
	otelx "github.com/algotwist369/bookby247/libs/otel"
	"github.com/algotwist369/bookby247/libs/runtime"
	"github.com/algotwist369/bookby247/services/booking-service/internal/booking"
	"github.com/algotwist369/bookby247/services/booking-service/internal/catalog"
	"github.com/algotwist369/bookby247/services/booking-service/internal/handlers"
	"github.com/algotwist369/bookby247/services/booking-service/internal/notify"
	"github.com/algotwist369/bookby247/services/booking-service/internal/otp"
	"github.com/algotwist369/bookby247/services/booking-service/internal/payments"
	"github.com/algotwist369/bookby247/services/booking-service/internal/publicbooking"
	"github.com/algotwist369/bookby247/services/booking-service/internal/storage"
)

func main() {
	_ = godotenv.Load()
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheck())
	}

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "localhost:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable at startup", "err", err)
	}

	reg := prometheus.DefaultRegisterer
	metrics := booking.NewMetrics(reg)

	brokers := config.String("KAFKA_BROKERS", "")
	var sink notify.Sink = notify.LogSink{Logger: logger}
	if strings.TrimSpace(brokers) != "" {
		kafkaSink := notify.NewKafkaSink(brokers)
		defer func() { _ = kafkaSink.Close() }()
		sink = kafkaSink
	} else {
		logger.Warn("KAFKA_BROKERS not set; notifications are logged only")
	}
	dispatcher := notify.NewDispatcher(sink, logger, notify.Config{
		Workers:   config.Int("NOTIFY_WORKERS", 2),
		QueueSize: config.Int("NOTIFY_QUEUE_SIZE", 256),
		Timeout:   config.Seconds("NOTIFY_TIMEOUT_SECONDS", 10*time.Second),
	}, reg)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	bookings := booking.NewService(booking.Deps{
		Store:    storage.NewPostgresStore(pool),
		Catalog:  catalog.NewPostgresProvider(pool),
		Notifier: dispatcher,
		Metrics:  metrics,
		Logger:   logger,
	})

	var fetcher payments.StatusFetcher
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		fetcher = payments.NewStripeFetcher(key)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; payment proofs will fall back to passcodes")
	}
	public := publicbooking.New(publicbooking.Deps{
		Bookings:    bookings,
		Payments:    payments.NewSignatureVerifier(config.String("PAYMENT_SIGNATURE_SECRET", ""), config.String("PAYMENT_CURRENCY", "inr"), fetcher),
		Issuer:      otp.NewIssuer(config.Seconds("OTP_TTL_SECONDS", otp.DefaultTTL), bcrypt.DefaultCost),
		Verifier:    otp.NewVerifier(nil),
		Passcodes:   otp.NewRedisStore(rdb),
		Notifier:    dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		MaxAttempts: config.Int("OTP_MAX_ATTEMPTS", publicbooking.DefaultMaxAttempts),
	})

	limiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("PUBLIC_RATE_LIMIT", 30),
		config.Seconds("PUBLIC_RATE_WINDOW_SECONDS", time.Minute),
		"rl:public",
	)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if strings.TrimSpace(brokers) != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	if err := startGrpcServer(ctx, logger, checks); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	r := chi.NewRouter()
	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.Readyz(checks...))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handlers.NewRouter(bookings, public, handlers.Config{
		JWTSecret:   jwtSecret,
		PublicLimit: limiter.Middleware(logger),
		Logger:      logger,
	}))

	httpHandler := httpx.Chain(r,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: httpx.ParseOrigins(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("HTTP_HANDLER_TIMEOUT_SECONDS", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
