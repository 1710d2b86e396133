package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/utils"

	"github.com/rs/zerolog/log"
)

type NotificationService interface {
	List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	RegisterDevice(ctx context.Context, userID, token, deviceType string) error
}

// RegisterFCMToken handles POST /api/devices/fcm-token
func RegisterFCMToken(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req struct {
			Token      string `json:"token"`
			DeviceType string `json:"device_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := svc.RegisterDevice(r.Context(), userClaims.UserID, req.Token, req.DeviceType); err != nil {
			respondErr(w, r, err, "Not found")
			return
		}

		log.Info().Str("user_id", userClaims.UserID).Str("device_type", req.DeviceType).Msg("📱 FCM token registered")
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "FCM token registered successfully",
		})
	}
}

// ListNotifications handles GET /api/notifications?limit=N
func ListNotifications(svc NotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		list, err := svc.List(r.Context(), userClaims.UserID, limit)
		if err != nil {
			respondErr(w, r, err, "Not found")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"notifications": list,
			"count":         len(list),
		})
	}
}
