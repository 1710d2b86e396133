// Package dispatch matches emergency requests to field units and drives the
// assigned unit toward the incident one step at a time.
package dispatch

import (
	"context"

	"civic-dispatch-backend/internal/models"
)

// Store is the record store the engine needs. Reads outside Atomically are
// snapshots and may be stale.
type Store interface {
	CreateEmergency(ctx context.Context, req *models.EmergencyRequest) error
	GetEmergency(ctx context.Context, id string) (*models.EmergencyRequest, error)
	GetUnitLocation(ctx context.Context, unitID string) (*models.UnitLocation, error)
	// EnsureUnitLocation returns the unit's location row, inserting one at
	// def with available=true if the unit has none yet.
	EnsureUnitLocation(ctx context.Context, unitID string, def models.Coordinate) (*models.UnitLocation, error)
	ListUnitLocations(ctx context.Context) ([]models.UnitLocation, error)
	ResetAvailability(ctx context.Context) (int64, error)

	// Atomically runs fn in a unit of work. Nothing fn saved is visible to
	// others unless fn returns nil.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx holds per-entity locks until the unit of work ends. Callers must lock
// the emergency request before the unit location.
type Tx interface {
	LockEmergency(ctx context.Context, id string) (*models.EmergencyRequest, error)
	LockUnitLocation(ctx context.Context, unitID string, def models.Coordinate) (*models.UnitLocation, error)
	SaveEmergency(ctx context.Context, req *models.EmergencyRequest) error
	SaveUnitLocation(ctx context.Context, loc *models.UnitLocation) error
}

// Directory is the read side of the user directory.
type Directory interface {
	// FieldUnitsByDepartment matches department names case-insensitively
	// by substring.
	FieldUnitsByDepartment(ctx context.Context, department string) ([]models.Unit, error)
	FieldUnits(ctx context.Context) ([]models.Unit, error)
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
}
