package handlers

import (
	"net/http"

	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/utils"
)

type UpdateLocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,lat"`
	Longitude *float64 `json:"longitude" validate:"required,lng"`
}

// UpdateUnitLocation handles POST /api/units/location; a field unit reports
// its own position.
func UpdateUnitLocation(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req UpdateLocationRequest
		if !bindJSON(w, r, &req) {
			return
		}

		loc, err := svc.UpdateUnitPosition(r.Context(), userClaims.UserID,
			models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude})
		if err != nil {
			respondErr(w, r, err, "Unit not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"location": loc,
		})
	}
}

// ListUnits handles GET /api/units
func ListUnits(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		units, err := svc.ListUnits(r.Context())
		if err != nil {
			respondErr(w, r, err, "Not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"units": units,
			"count": len(units),
		})
	}
}

// ResetAvailability handles POST /api/admin/units/reset-availability
func ResetAvailability(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.ResetAvailability(r.Context())
		if err != nil {
			respondErr(w, r, err, "Not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"reset":   n,
		})
	}
}

// StatsSource is anything exposing monitoring stats.
type StatsSource interface {
	GetStats() map[string]interface{}
}

// RoutingStats handles GET /api/admin/routing/stats
func RoutingStats(sources map[string]StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]interface{}, len(sources))
		for name, s := range sources {
			if s != nil {
				out[name] = s.GetStats()
			}
		}
		utils.RespondJSON(w, http.StatusOK, out)
	}
}
