package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/config"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/memory"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var checks []runtime.ReadyCheck

	var store repository.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		store = memory.New()
	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				logger.Error("db migration failed", "err", err)
				os.Exit(1)
			}
			logger.Info("db schema applied")
		}
		store = postgres.New(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	limiters := handlers.Limiters{FailOpen: cfg.RateLimitFailOpen, TrustProxy: cfg.TrustProxyHeaders}
	limits := cfg.RateLimits()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		newLimiter := func(class string) httpx.Limiter {
			l := limits[class]
			return httpx.NewRedisRateLimiter(rdb, l.Limit, l.Window, cfg.ServiceName+":ratelimit:"+class)
		}
		limiters.Login = newLimiter("login")
		limiters.Register = newLimiter("register")
		limiters.Booking = newLimiter("booking")
		limiters.Read = newLimiter("read")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		newLimiter := func(class string) httpx.Limiter {
			l := limits[class]
			return httpx.NewRateLimiter(l.Limit, l.Window)
		}
		limiters.Login = newLimiter("login")
		limiters.Register = newLimiter("register")
		limiters.Booking = newLimiter("booking")
		limiters.Read = newLimiter("read")
	}

	var sinks []events.Sink
	if sink := events.NewKafkaSink(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger); sink != nil {
		sinks = append(sinks, sink)
		go sink.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	emitter := events.NewEmitter(logger, sinks...)

	var sender notify.Sender
	if cfg.EmailEnabled {
		sender = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
	}
	notifier := notify.NewNotifier(sender, logger)
	defer notifier.Wait()

	idSvc := identity.NewService(store, auth.NewSigner(cfg.TokenSigningKey, cfg.AccessTokenTTL), cfg.RefreshTokenTTL, logger)
	if err := idSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Error("admin bootstrap failed", "err", err)
		os.Exit(1)
	}
	engine := availability.NewEngine(store, store, store, cfg.Location())

	router := handlers.NewRouter(handlers.Deps{
		Identity:     idSvc,
		Catalog:      catalog.NewService(store, logger),
		Engine:       engine,
		Booking:      booking.NewCoordinator(engine, store, emitter, notifier, logger),
		Appointments: appointments.NewService(engine, store, emitter, logger),
		Limiters:     limiters,
		Logger:       logger,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/", router)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(cfg.CORSOrigins)),
		httpx.WithBodyLimit(cfg.RequestBodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("booking service configured", "store", cfg.StoreDriver, "timezone", cfg.Timezone)
	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
}
