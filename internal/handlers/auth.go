package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"
	"civic-dispatch-backend/pkg/utils"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

type LoginRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	OK    bool                 `json:"ok"`
	Token string               `json:"token,omitempty"`
	User  *models.UserResponse `json:"user,omitempty"`
}

// Login handles POST /api/auth/login
func Login(users UserStore, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !bindJSON(w, r, &req) {
			return
		}

		log.Info().Str("phone", req.Phone).Msg("🔐 Login attempt")

		user, err := users.GetUserByPhone(r.Context(), req.Phone)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				respondErr(w, r, err, "Not found")
				return
			}
			log.Info().Str("phone", req.Phone).Msg("❌ User not found")
			utils.RespondJSON(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Info().Str("phone", req.Phone).Msg("❌ Invalid password")
			utils.RespondJSON(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		tokenString, err := middleware.IssueToken(jwtSecret, user, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("❌ Failed to create token")
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create token")
			return
		}

		userResponse := user.ToUserResponse()
		log.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("✅ Login successful")
		utils.RespondJSON(w, http.StatusOK, LoginResponse{
			OK:    true,
			Token: tokenString,
			User:  &userResponse,
		})
	}
}
