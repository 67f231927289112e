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
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/railwatch/internal/http/handlers"
	httpmw "github.com/diagnosis/railwatch/internal/http/middleware"
	"github.com/diagnosis/railwatch/internal/identity"
	"github.com/diagnosis/railwatch/internal/mapview"
	"github.com/diagnosis/railwatch/internal/prediction"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/schedule"
	"github.com/diagnosis/railwatch/internal/search"
	"github.com/diagnosis/railwatch/internal/toggle"
	"github.com/diagnosis/railwatch/internal/verification"
	"github.com/diagnosis/railwatch/pkg/cache"
	"github.com/diagnosis/railwatch/pkg/config"
	"github.com/diagnosis/railwatch/pkg/events"
	"github.com/diagnosis/railwatch/pkg/logger"
	"github.com/diagnosis/railwatch/pkg/metrics"
	mw "github.com/diagnosis/railwatch/pkg/middleware"
)

func main() {
	cfg := config.Load()
	logger.SetDefault(logger.New(os.Stdout, cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("RailWatch API stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg, err := registry.Load(cfg.Registry.SeedFile)
	if err != nil {
		return err
	}
	logger.Info("Gate registry loaded", "gates", reg.Len())

	store, closeStore, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, err := openEventBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	m := metrics.NewMetrics("railwatch")

	sender, err := newSender(cfg)
	if err != nil {
		return err
	}
	provider := identity.NewOTPProvider(store, sender, cfg.Verification.CodeTTL, cfg.Verification.MaxAttempts)
	coord := toggle.NewCoordinator(reg, provider, verification.Config{
		SessionTTL:      cfg.Verification.SessionTTL,
		ProofDifficulty: cfg.Verification.ProofDifficulty,
		Publisher:       bus,
		Metrics:         m,
	})

	loc, err := time.LoadLocation(cfg.Prediction.Timezone)
	if err != nil {
		logger.Warn("Unknown prediction timezone, using local time", "timezone", cfg.Prediction.Timezone)
		loc = time.Local
	}

	schedules, closeSchedules, err := schedule.Open(ctx, cfg, loc)
	if err != nil {
		return err
	}
	defer closeSchedules()
	if cfg.Schedule.SeedFile != "" {
		n, err := schedule.ImportFile(ctx, schedules, cfg.Schedule.SeedFile)
		if err != nil {
			return err
		}
		logger.Info("Imported train schedules", "count", n, "file", cfg.Schedule.SeedFile)
	}

	predictor, err := newPredictor(ctx, cfg, schedules, loc, m)
	if err != nil {
		return err
	}

	h := handlers.New(handlers.Deps{
		Registry:    reg,
		View:        search.NewView(reg),
		Coordinator: coord,
		Predictor:   predictor,
		Schedules:   schedules,
		Metrics:     m,
		Maps: mapview.NewAdapter(reg, mapview.Options{
			Fallback:       mapview.Center{Lat: cfg.Map.FallbackLat, Lng: cfg.Map.FallbackLng},
			Zoom:           cfg.Map.Zoom,
			StaticMapsBase: cfg.Map.StaticMapsBase,
			StaticMapsKey:  cfg.Map.StaticMapsKey,
		}),
		JWTSecret:      cfg.Auth.JWTSecret,
		DialogTokenTTL: cfg.Auth.DialogTokenTTL,
		PhoneLimiter: httpmw.NewRateLimiter(store, httpmw.RateLimitConfig{
			Requests: cfg.Verification.PhoneRateLimit,
			Window:   cfg.Verification.PhoneRateWindow,
		}),
		Idempotency: store,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("railwatch"))
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)
	r.Use(mw.Metrics(m.Handler()))
	r.Mount("/v1", h.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting RailWatch API", "port", cfg.Server.Port, "prediction", predictor != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down RailWatch API...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openCache(cfg *config.Config) (cache.Store, func(), error) {
	if cfg.Redis.URL == "" {
		logger.Warn("REDIS_URL not set, using in-process cache")
		return cache.NewMemoryStore(), func() {}, nil
	}
	rs, err := cache.NewRedisStore(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, "railwatch:")
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { rs.Close() }, nil
}

func openEventBus(cfg *config.Config) (events.EventBus, error) {
	if cfg.NATS.URL == "" {
		logger.Warn("NATS_URL not set, events are dropped")
		return events.NoopBus{}, nil
	}
	bus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		return nil, err
	}

	// Mirror user-facing notifications into the log so operators see them.
	if err := bus.Subscribe(events.NotifySend, func(msg *events.Message) {
		logger.Info("Notification", "subject", msg.Subject, "payload", string(msg.Data))
	}); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

func newSender(cfg *config.Config) (identity.Sender, error) {
	if cfg.SMS.DevMode {
		logger.Warn("SMS_DEV_MODE enabled, verification codes are logged instead of sent")
		return identity.NewDevSender(), nil
	}
	return identity.NewMailerSendSMS(cfg.SMS.MailerSendKey, cfg.SMS.From)
}

func newPredictor(ctx context.Context, cfg *config.Config, schedules schedule.Store, loc *time.Location, m *metrics.Metrics) (*prediction.Predictor, error) {
	if cfg.Prediction.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, wait-time prediction disabled")
		return nil, nil
	}
	gen, err := prediction.NewGenAIGenerator(ctx, cfg.Prediction.APIKey, cfg.Prediction.Model)
	if err != nil {
		return nil, err
	}

	pc := prediction.Config{Location: loc, Timeout: cfg.Prediction.Timeout, Metrics: m}
	if cfg.Prediction.ToolEnabled {
		pc.Schedules = schedules
	}
	return prediction.NewPredictor(gen, pc), nil
}
