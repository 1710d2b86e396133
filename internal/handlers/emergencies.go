package handlers

import (
	"context"
	"net/http"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// EmergencyService is the slice of the dispatch controller the HTTP layer uses.
type EmergencyService interface {
	CreateEmergency(ctx context.Context, citizenID string, st models.ServiceType, dest models.Coordinate) (*models.EmergencyRequest, error)
	GetEmergency(ctx context.Context, id string) (*dispatch.EmergencyDetails, error)
	SimulateStep(ctx context.Context, id string) (dispatch.StepResult, error)
	CancelEmergency(ctx context.Context, id string) (*models.EmergencyRequest, error)
	UpdateUnitPosition(ctx context.Context, unitID string, pos models.Coordinate) (*models.UnitLocation, error)
	ListUnits(ctx context.Context) ([]models.UnitStatus, error)
	ResetAvailability(ctx context.Context) (int64, error)
}

type CreateEmergencyRequest struct {
	ServiceType string   `json:"service_type" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"required,lat"`
	Longitude   *float64 `json:"longitude" validate:"required,lng"`
}

type EmergencyResponse struct {
	Success            bool                     `json:"success"`
	Emergency          *models.EmergencyRequest `json:"emergency"`
	AwaitingAssignment bool                     `json:"awaiting_assignment"`
}

// SimulateResponse is the poll contract: the client calls simulate until
// status is ARRIVED.
type SimulateResponse struct {
	Latitude  float64                `json:"latitude"`
	Longitude float64                `json:"longitude"`
	Status    models.EmergencyStatus `json:"status"`
	Bearing   float64                `json:"bearing"`
	Route     models.Path            `json:"route"`
	RouteStep int                    `json:"route_step"`
}

func isAdmin(role string) bool {
	return role == models.RoleSuperAdmin || role == models.RoleDeptAdmin
}

// canSee: the citizen who raised it, the unit working it, or an admin.
func canSee(claims middleware.UserClaims, req *models.EmergencyRequest) bool {
	return isAdmin(claims.Role) || claims.UserID == req.CitizenID || claims.UserID == req.UnitID()
}

// CreateEmergency handles POST /api/emergencies
func CreateEmergency(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req CreateEmergencyRequest
		if !bindJSON(w, r, &req) {
			return
		}
		st, err := models.ParseServiceType(req.ServiceType)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "service_type must be AMBULANCE, FIRE or POLICE")
			return
		}

		emergency, err := svc.CreateEmergency(r.Context(), userClaims.UserID, st,
			models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude})
		if err != nil {
			respondErr(w, r, err, "Not found")
			return
		}

		utils.RespondJSON(w, http.StatusCreated, EmergencyResponse{
			Success:            true,
			Emergency:          emergency,
			AwaitingAssignment: emergency.AssignedUnit == nil,
		})
	}
}

// GetEmergency handles GET /api/emergencies/{id}
func GetEmergency(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, _ := middleware.GetUserFromContext(r)
		details, err := svc.GetEmergency(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, r, err, "Emergency not found")
			return
		}
		if !canSee(userClaims, details.Emergency) {
			utils.RespondError(w, http.StatusNotFound, "Emergency not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, details)
	}
}

// SimulateStep handles POST /api/emergencies/{id}/simulate
func SimulateStep(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userClaims, _ := middleware.GetUserFromContext(r)
		if !isAdmin(userClaims.Role) {
			details, err := svc.GetEmergency(r.Context(), id)
			if err != nil {
				respondErr(w, r, err, "Emergency not found")
				return
			}
			if !canSee(userClaims, details.Emergency) {
				utils.RespondError(w, http.StatusNotFound, "Emergency not found")
				return
			}
		}

		res, err := svc.SimulateStep(r.Context(), id)
		if err != nil {
			respondErr(w, r, err, "Emergency not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, SimulateResponse{
			Latitude:  res.Position.Latitude,
			Longitude: res.Position.Longitude,
			Status:    res.Status,
			Bearing:   res.Bearing,
			Route:     res.Route,
			RouteStep: res.RouteStep,
		})
	}
}

// CancelEmergency handles POST /api/emergencies/{id}/cancel
func CancelEmergency(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		userClaims, _ := middleware.GetUserFromContext(r)
		details, err := svc.GetEmergency(r.Context(), id)
		if err != nil {
			respondErr(w, r, err, "Emergency not found")
			return
		}
		if !isAdmin(userClaims.Role) && userClaims.UserID != details.Emergency.CitizenID {
			utils.RespondError(w, http.StatusForbidden, "Only the requester or an admin can cancel")
			return
		}

		cancelled, err := svc.CancelEmergency(r.Context(), id)
		if err != nil {
			respondErr(w, r, err, "Emergency not found")
			return
		}
		log.Info().Str("emergency_id", id).Str("by", userClaims.UserID).Msg("🛑 Emergency cancelled via API")
		utils.RespondJSON(w, http.StatusOK, EmergencyResponse{Success: true, Emergency: cancelled})
	}
}
