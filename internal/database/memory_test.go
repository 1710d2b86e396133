package database

import (
	"context"
	"errors"
	"sync"
	"testing"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kathmandu = models.Coordinate{Latitude: 27.7172, Longitude: 85.3240}

func addUnit(t *testing.T, s *MemoryStore, id, name, dept string) {
	t.Helper()
	ctx := context.Background()
	var deptID *string
	if dept != "" {
		d, err := s.UpsertDepartment(ctx, &models.Department{ID: "dept-" + dept, Name: dept})
		require.NoError(t, err)
		deptID = &d.ID
	}
	require.NoError(t, s.CreateUser(ctx, &models.User{
		ID: id, Phone: "phone-" + id, Name: name, Role: models.RoleFieldOfficial, DepartmentID: deptID,
	}))
}

func TestMemoryDirectorySubstringMatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	addUnit(t, s, "u1", "Fire Engine", "Fire Department")
	addUnit(t, s, "u2", "Ambulance", "Health Services")
	addUnit(t, s, "u3", "Floater", "")
	require.NoError(t, s.CreateUser(ctx, &models.User{ID: "c1", Phone: "c1", Role: models.RoleCitizen}))

	units, err := s.FieldUnitsByDepartment(ctx, "fire")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "u1", units[0].ID)
	assert.Equal(t, "Fire Department", units[0].Department)

	all, err := s.FieldUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.GetUnit(ctx, "c1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryEnsureUnitLocation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	loc, err := s.EnsureUnitLocation(ctx, "u1", kathmandu)
	require.NoError(t, err)
	assert.True(t, loc.Available)
	assert.Equal(t, kathmandu, loc.Position)

	elsewhere := models.Coordinate{Latitude: 1, Longitude: 1}
	again, err := s.EnsureUnitLocation(ctx, "u1", elsewhere)
	require.NoError(t, err)
	assert.Equal(t, kathmandu, again.Position)
}

func TestMemoryAtomicallyRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateEmergency(ctx, &models.EmergencyRequest{ID: "e1", Status: models.StatusPending}))

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(tx dispatch.Tx) error {
		req, err := tx.LockEmergency(ctx, "e1")
		require.NoError(t, err)
		req.Status = models.StatusDispatched
		require.NoError(t, tx.SaveEmergency(ctx, req))

		loc, err := tx.LockUnitLocation(ctx, "u1", kathmandu)
		require.NoError(t, err)
		loc.Available = false
		require.NoError(t, tx.SaveUnitLocation(ctx, loc))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	req, err := s.GetEmergency(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	loc, err := s.GetUnitLocation(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, loc.Available)
}

func TestMemoryAtomicallySerializesPerEntity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.EnsureUnitLocation(ctx, "u1", kathmandu)
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomically(ctx, func(tx dispatch.Tx) error {
				loc, err := tx.LockUnitLocation(ctx, "u1", kathmandu)
				if err != nil {
					return err
				}
				loc.UpdatedAt++
				return tx.SaveUnitLocation(ctx, loc)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loc, err := s.GetUnitLocation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), loc.UpdatedAt)
}

func TestMemorySaveRequiresLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	err := s.Atomically(ctx, func(tx dispatch.Tx) error {
		return tx.SaveUnitLocation(ctx, &models.UnitLocation{UnitID: "u1"})
	})
	assert.ErrorIs(t, err, errs.ErrInternal)
}

func TestMemoryGetEmergencyIsACopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateEmergency(ctx, &models.EmergencyRequest{
		ID:    "e1",
		Route: models.RouteState{Path: models.Path{kathmandu, kathmandu}, Active: true},
	}))

	req, err := s.GetEmergency(ctx, "e1")
	require.NoError(t, err)
	req.Route.Path[0] = models.Coordinate{}

	again, err := s.GetEmergency(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, kathmandu, again.Route.Path[0])

	_, err = s.GetEmergency(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, s.CreateEmergency(ctx, &models.EmergencyRequest{ID: "e1"}), errs.ErrConflict)
}

func TestMemoryResetAvailability(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SetUnitLocation(ctx, &models.UnitLocation{UnitID: "u1", Available: false}))
	require.NoError(t, s.SetUnitLocation(ctx, &models.UnitLocation{UnitID: "u2", Available: true}))

	n, err := s.ResetAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	loc, _ := s.GetUnitLocation(ctx, "u1")
	assert.True(t, loc.Available)
}

func TestSeedIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, Seed(ctx, s, "password123"))
	require.NoError(t, Seed(ctx, s, "password123"))

	units, err := s.FieldUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, units, len(seedUnits))

	health, err := s.FieldUnitsByDepartment(ctx, "Health")
	require.NoError(t, err)
	assert.Len(t, health, 2)

	locs, err := s.ListUnitLocations(ctx)
	require.NoError(t, err)
	assert.Len(t, locs, len(seedUnits))

	admin, err := s.GetUserByPhone(ctx, "9800000000")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, admin.Role)
}

func TestMemoryNotificationsAndTokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	addUnit(t, s, "u1", "Unit", "Health")

	for _, title := range []string{"first", "second", "third"} {
		require.NoError(t, s.CreateNotification(ctx, &models.Notification{ID: title, RecipientID: "u1", Title: title}))
	}
	assert.ErrorIs(t, s.CreateNotification(ctx, &models.Notification{ID: "x", RecipientID: "ghost"}), errs.ErrInvalidInput)

	list, err := s.ListNotifications(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].Title)

	require.NoError(t, s.UpsertDeviceToken(ctx, &models.DeviceToken{UserID: "u1", Token: "tok", DeviceType: "android"}))
	tokens, err := s.DeviceTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok"}, tokens)
	require.NoError(t, s.DeleteDeviceToken(ctx, "tok"))
	tokens, _ = s.DeviceTokens(ctx, "u1")
	assert.Empty(t, tokens)
}
