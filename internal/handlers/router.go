package handlers

import (
	"net/http"
	"time"

	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps is everything the HTTP surface needs. Hub, Gatherer and
// RoutingStats may be left nil; their endpoints are then not mounted.
// A zero LoginRateLimit disables login throttling.
type RouterDeps struct {
	JWTSecret      string
	Emergencies    EmergencyService
	Users          UserStore
	Notifications  NotificationService
	Hub            *websocket.Hub
	Gatherer       prometheus.Gatherer
	RoutingStats   map[string]StatsSource
	LoginRateLimit float64
	LoginRateBurst int
}

// NewRouter builds the chi router with every route group mounted.
func NewRouter(d RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if d.LoginRateLimit > 0 {
			r.Use(middleware.RateLimit(d.LoginRateLimit, d.LoginRateBurst, 10*time.Minute))
		}
		r.Post("/api/auth/login", Login(d.Users, d.JWTSecret))
	})

	// token comes in as ?token= since browsers can't set headers on upgrade
	if d.Hub != nil {
		r.Get("/ws", websocket.HandleWebSocket(d.Hub, d.JWTSecret, d.Emergencies))
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))

			r.Post("/emergencies", CreateEmergency(d.Emergencies))
			r.Get("/emergencies/{id}", GetEmergency(d.Emergencies))
			r.Post("/emergencies/{id}/simulate", SimulateStep(d.Emergencies))
			r.Post("/emergencies/{id}/cancel", CancelEmergency(d.Emergencies))

			r.Post("/devices/fcm-token", RegisterFCMToken(d.Notifications))
			r.Get("/notifications", ListNotifications(d.Notifications))

			r.With(middleware.RequireRole(models.RoleFieldOfficial)).
				Post("/units/location", UpdateUnitLocation(d.Emergencies))
		})

		// Dashboards
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))
			r.Use(middleware.RequireRole(models.RoleSuperAdmin, models.RoleDeptAdmin))

			r.Get("/units", ListUnits(d.Emergencies))
			r.Post("/admin/users", CreateUser(d.Users))
			r.Get("/admin/routing/stats", RoutingStats(d.RoutingStats))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.JWTSecret))
			r.Use(middleware.RequireRole(models.RoleSuperAdmin))

			r.Post("/admin/units/reset-availability", ResetAvailability(d.Emergencies))
		})
	})

	return r
}
