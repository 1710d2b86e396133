package handlers

import (
	"net/http"
	"strings"
	"time"

	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserRequest struct {
	Phone        string  `json:"phone" validate:"required"`
	Password     string  `json:"password" validate:"required,min=6"`
	Name         string  `json:"name" validate:"required"`
	Role         string  `json:"role" validate:"required,oneof=SUPER_ADMIN DEPT_ADMIN FIELD_OFFICIAL CITIZEN"`
	DepartmentID *string `json:"department_id"`
}

// CreateUser handles POST /api/admin/users. Department admins may only create
// field officials in their own department.
func CreateUser(users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, _ := middleware.GetUserFromContext(r)

		var req CreateUserRequest
		if !bindJSON(w, r, &req) {
			return
		}
		req.Phone = strings.TrimSpace(req.Phone)
		if req.Phone == "" {
			utils.RespondError(w, http.StatusBadRequest, "phone is required")
			return
		}
		if req.Role == models.RoleFieldOfficial && req.DepartmentID == nil {
			utils.RespondError(w, http.StatusBadRequest, "Field officials need a department_id")
			return
		}
		if userClaims.Role == models.RoleDeptAdmin {
			if req.Role != models.RoleFieldOfficial || req.DepartmentID == nil || *req.DepartmentID != userClaims.DepartmentID {
				utils.RespondError(w, http.StatusForbidden, "Department admins can only create officials in their department")
				return
			}
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Error().Err(err).Msg("❌ Failed to hash password")
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := time.Now().Unix()
		user := models.User{
			ID:           uuid.New().String(),
			Phone:        req.Phone,
			Password:     string(hashedPassword),
			Name:         req.Name,
			Role:         req.Role,
			DepartmentID: req.DepartmentID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := users.CreateUser(r.Context(), &user); err != nil {
			respondErr(w, r, err, "Not found")
			return
		}

		log.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("✅ User created")
		utils.RespondJSON(w, http.StatusCreated, user.ToUserResponse())
	}
}
