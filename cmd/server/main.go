package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civic-dispatch-backend/internal/config"
	"civic-dispatch-backend/internal/database"
	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/handlers"
	"civic-dispatch-backend/internal/logger"
	"civic-dispatch-backend/internal/metrics"
	"civic-dispatch-backend/internal/services"
	"civic-dispatch-backend/internal/services/roads"
	"civic-dispatch-backend/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// backingStore is what both the Postgres and in-memory stores provide.
type backingStore interface {
	dispatch.Store
	dispatch.Directory
	handlers.UserStore
	services.NotificationStore
	database.SeedStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: invalid configuration")
	}
	logger.Setup(cfg.Env)

	log.Info().Msg("═══════════════════════════════════════════════════════════════════")
	log.Info().Msg("🚑 CIVIC DISPATCH BACKEND STARTING")
	log.Info().Msg("═══════════════════════════════════════════════════════════════════")

	if cfg.JWTSecret == "" {
		log.Warn().Msg("⚠️  APP_JWT_SECRET not set, tokens are signed with an empty key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: metrics registration failed")
	}

	// Routing: OSRM with the synthetic generator behind it
	synthetic := roads.NewSyntheticRouter(cfg.Routing.FallbackSteps, cfg.Routing.FallbackWiggle)
	routingStats := map[string]handlers.StatsSource{}
	var router roads.RouteProvider = synthetic
	if cfg.Routing.Disabled {
		log.Warn().Msg("⚠️  External routing disabled, using synthetic routes only")
	} else {
		cache := roads.NewRouteCache(cfg.Routing.CacheTTL)
		osrm := roads.NewOSRMClient(cfg.Routing.OSRMBaseURL, cfg.Routing.Timeout, cfg.Routing.UserAgent, cache).
			WithRateLimit(cfg.Routing.RateLimit, cfg.Routing.RateBurst)
		router = roads.NewFallbackRouter(osrm, synthetic, m)
		routingStats["osrm"] = osrm
		routingStats["cache"] = cache
		log.Info().Str("base_url", cfg.Routing.OSRMBaseURL).Dur("timeout", cfg.Routing.Timeout).Msg("✅ OSRM routing enabled")
	}

	optimizer := roads.NewLocationOptimizer()
	routingStats["location_optimizer"] = optimizer

	// Push notifications; base64 credentials win over the file path
	var pusher services.Pusher
	if cfg.Firebase.CredentialsBase64 != "" {
		fcm, err := services.NewFCMServiceFromBase64(cfg.Firebase.CredentialsBase64)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to initialize FCM from base64 (push notifications disabled)")
		} else {
			pusher = fcm
			log.Info().Msg("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcm, err := services.NewFCMService(cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to initialize FCM from file (push notifications disabled)")
		} else {
			pusher = fcm
			log.Info().Msg("✅ Firebase Cloud Messaging initialized from file")
		}
	}
	notifications := services.NewNotificationService(store, pusher)

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	log.Info().Msg("✅ WebSocket hub started")

	units := dispatch.NewUnitDirectory(store, store, cfg.Dispatch.ServiceDepartments, cfg.Dispatch.DefaultUnitLocation)
	matcher := dispatch.NewMatcher(units, dispatch.Policy{AllowForcedAssignment: cfg.Dispatch.AllowForcedAssignment})
	sim := dispatch.NewSimulator(router, dispatch.DefaultSimulatorConfig(), rand.New(rand.NewSource(time.Now().UnixNano())))
	controller := dispatch.NewController(store, units, matcher, sim,
		dispatch.WithMetrics(m),
		dispatch.WithMaxMatchAttempts(cfg.Dispatch.MaxMatchAttempts),
		dispatch.WithEventSink(dispatch.Sinks{
			websocket.NewDispatchBroadcaster(wsHub, optimizer),
			services.NewDispatchNotifier(notifications),
		}),
	)
	log.Info().
		Bool("forced_assignment", cfg.Dispatch.AllowForcedAssignment).
		Int("max_match_attempts", cfg.Dispatch.MaxMatchAttempts).
		Msg("✅ Dispatch engine ready")

	r := handlers.NewRouter(handlers.RouterDeps{
		JWTSecret:     cfg.JWTSecret,
		Emergencies:   controller,
		Users:         store,
		Notifications: notifications,
		Hub:           wsHub,
		Gatherer:      reg,
		RoutingStats:  routingStats,

		LoginRateLimit: cfg.AuthRateLimit,
		LoginRateBurst: cfg.AuthRateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("❌ Graceful shutdown failed")
		}
	}()

	log.Info().Msg("═══════════════════════════════════════════════════════════════════")
	log.Info().Msg("✅ ALL INITIALIZATION COMPLETE")
	log.Info().Msgf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Info().Msg("═══════════════════════════════════════════════════════════════════")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Str("port", cfg.Port).Msg("❌ FATAL ERROR: Server failed to start")
	}
}

// openStore connects and migrates Postgres, or builds a seeded in-memory
// store for demos.
func openStore(ctx context.Context, cfg *config.Config) (backingStore, func()) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("⚠️  Using in-memory store, data is lost on restart")
		s := database.NewMemoryStore()
		if err := database.Seed(ctx, s, seedPassword()); err != nil {
			log.Fatal().Err(err).Msg("❌ FATAL ERROR: seeding failed")
		}
		return s, func() {}
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: Database connection failed")
	}
	log.Info().Msg("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: Database migrations failed")
	}
	log.Info().Msg("✅ Database migrations completed")

	s := database.NewPostgresStore(db)
	if err := database.Seed(ctx, s, seedPassword()); err != nil {
		log.Fatal().Err(err).Msg("❌ FATAL ERROR: seeding failed")
	}
	log.Info().Msg("✅ Seed data in place")
	return s, func() { db.Close() }
}

func seedPassword() string {
	if p := os.Getenv("SEED_PASSWORD"); p != "" {
		return p
	}
	return "password123"
}
