package database

import (
	"context"
	"errors"
	"time"

	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// SeedStore is what Seed needs; both stores implement it.
type SeedStore interface {
	UpsertDepartment(ctx context.Context, dept *models.Department) (*models.Department, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	SetUnitLocation(ctx context.Context, loc *models.UnitLocation) error
}

type seedUnit struct {
	name, phone string
	department  string
	lat, lng    float64
}

var seedDepartments = []models.Department{
	{Name: "Health", Description: "Ambulance and medical response"},
	{Name: "Fire Department", Description: "Fire and rescue"},
	{Name: "Police", Description: "Law enforcement"},
}

// Field units spread around central Kathmandu.
var seedUnits = []seedUnit{
	{"Ambulance Unit 1", "9800000001", "Health", 27.7100, 85.3200},
	{"Ambulance Unit 2", "9800000002", "Health", 27.6950, 85.3350},
	{"Fire Engine 1", "9800000011", "Fire Department", 27.7200, 85.3300},
	{"Fire Engine 2", "9800000012", "Fire Department", 27.7050, 85.3150},
	{"Police Patrol 1", "9800000021", "Police", 27.7000, 85.3100},
	{"Police Patrol 2", "9800000022", "Police", 27.7250, 85.3400},
}

// Seed creates departments, field units with locations, a super admin and a
// demo citizen. Users whose phone already exists are left alone.
func Seed(ctx context.Context, s SeedStore, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	now := time.Now().Unix()

	deptIDs := make(map[string]string, len(seedDepartments))
	for _, d := range seedDepartments {
		d := d
		d.ID = uuid.New().String()
		d.OfficeLatitude, d.OfficeLongitude = 27.7172, 85.3240
		saved, err := s.UpsertDepartment(ctx, &d)
		if err != nil {
			return err
		}
		deptIDs[d.Name] = saved.ID
	}

	created := 0
	ensureUser := func(name, phone, role string, deptID *string) (*models.User, bool, error) {
		existing, err := s.GetUserByPhone(ctx, phone)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, false, err
		}
		user := &models.User{
			ID:           uuid.New().String(),
			Phone:        phone,
			Password:     string(hash),
			Name:         name,
			Role:         role,
			DepartmentID: deptID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.CreateUser(ctx, user); err != nil {
			return nil, false, err
		}
		created++
		return user, true, nil
	}

	if _, _, err := ensureUser("System Admin", "9800000000", models.RoleSuperAdmin, nil); err != nil {
		return err
	}
	if _, _, err := ensureUser("Demo Citizen", "9811111111", models.RoleCitizen, nil); err != nil {
		return err
	}
	for _, u := range seedUnits {
		deptID := deptIDs[u.department]
		user, isNew, err := ensureUser(u.name, u.phone, models.RoleFieldOfficial, &deptID)
		if err != nil {
			return err
		}
		if !isNew {
			continue
		}
		if err := s.SetUnitLocation(ctx, &models.UnitLocation{
			UnitID:    user.ID,
			Position:  models.Coordinate{Latitude: u.lat, Longitude: u.lng},
			Available: true,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}

	if created == 0 {
		log.Info().Msg("✓ Seed data already present, skipping...")
		return nil
	}
	log.Info().Int("users", created).Msg("🌱 Seeded departments, field units and demo accounts")
	return nil
}
