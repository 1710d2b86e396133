package database

import (
	"context"
	"os"
	"testing"
	"time"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable database: TEST_DATABASE_URL=postgres://...
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	return NewPostgresStore(db)
}

func TestPostgresEmergencyRoundTrip(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	require.NoError(t, Seed(ctx, s, "password123"))

	units, err := s.FieldUnitsByDepartment(ctx, "health")
	require.NoError(t, err)
	require.NotEmpty(t, units)
	unitID := units[0].ID

	now := time.Now().Unix()
	req := &models.EmergencyRequest{
		ID:          uuid.New().String(),
		CitizenID:   "citizen",
		ServiceType: models.ServiceAmbulance,
		Destination: models.Coordinate{Latitude: 27.73, Longitude: 85.33},
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateEmergency(ctx, req))

	err = s.Atomically(ctx, func(tx dispatch.Tx) error {
		locked, err := tx.LockEmergency(ctx, req.ID)
		if err != nil {
			return err
		}
		loc, err := tx.LockUnitLocation(ctx, unitID, models.Coordinate{Latitude: 27.7172, Longitude: 85.3240})
		if err != nil {
			return err
		}
		locked.Status = models.StatusDispatched
		locked.AssignedUnit = &unitID
		locked.Route = models.RouteState{Path: models.Path{loc.Position, req.Destination}, Step: 1, Active: true}
		loc.Available = false
		if err := tx.SaveUnitLocation(ctx, loc); err != nil {
			return err
		}
		return tx.SaveEmergency(ctx, locked)
	})
	require.NoError(t, err)

	got, err := s.GetEmergency(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, got.Status)
	assert.Equal(t, unitID, got.UnitID())
	assert.True(t, got.Route.Active)
	assert.Len(t, got.Route.Path, 2)

	_, err = s.GetEmergency(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.ResetAvailability(ctx)
	require.NoError(t, err)
	loc, err := s.GetUnitLocation(ctx, unitID)
	require.NoError(t, err)
	assert.True(t, loc.Available)
}
