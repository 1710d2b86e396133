package dispatch

import (
	"context"
	"sort"

	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"
)

// UnitDirectory looks up field units by service and owns their availability.
type UnitDirectory struct {
	dir             Directory
	store           Store
	departments     map[models.ServiceType]string
	defaultLocation models.Coordinate
}

func NewUnitDirectory(dir Directory, store Store, departments map[models.ServiceType]string, defaultLocation models.Coordinate) *UnitDirectory {
	return &UnitDirectory{
		dir:             dir,
		store:           store,
		departments:     departments,
		defaultLocation: defaultLocation,
	}
}

// DefaultLocation is where units without a location row start.
func (d *UnitDirectory) DefaultLocation() models.Coordinate {
	return d.defaultLocation
}

// FindCandidates returns the units whose department serves st. A service
// with no configured department yields no candidates.
func (d *UnitDirectory) FindCandidates(ctx context.Context, st models.ServiceType) ([]models.Unit, error) {
	dept, ok := d.departments[st]
	if !ok || dept == "" {
		return nil, nil
	}
	units, err := d.dir.FieldUnitsByDepartment(ctx, dept)
	if err != nil {
		return nil, errs.Wrap("find candidates", err)
	}
	return units, nil
}

func (d *UnitDirectory) AllUnits(ctx context.Context) ([]models.Unit, error) {
	units, err := d.dir.FieldUnits(ctx)
	if err != nil {
		return nil, errs.Wrap("list field units", err)
	}
	return units, nil
}

func (d *UnitDirectory) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	return d.dir.GetUnit(ctx, id)
}

func (d *UnitDirectory) EnsureLocation(ctx context.Context, unitID string) (*models.UnitLocation, error) {
	return d.store.EnsureUnitLocation(ctx, unitID, d.defaultLocation)
}

// LockLocation locks (creating if needed) the unit's location row in tx.
func (d *UnitDirectory) LockLocation(ctx context.Context, tx Tx, unitID string) (*models.UnitLocation, error) {
	return tx.LockUnitLocation(ctx, unitID, d.defaultLocation)
}

// SetAvailability flips the flag on a location already locked in tx.
func (d *UnitDirectory) SetAvailability(ctx context.Context, tx Tx, loc *models.UnitLocation, available bool, now int64) error {
	loc.Available = available
	loc.UpdatedAt = now
	return tx.SaveUnitLocation(ctx, loc)
}

// List joins every field unit with its location for dashboards.
func (d *UnitDirectory) List(ctx context.Context) ([]models.UnitStatus, error) {
	units, err := d.AllUnits(ctx)
	if err != nil {
		return nil, err
	}
	locs, err := d.store.ListUnitLocations(ctx)
	if err != nil {
		return nil, errs.Wrap("list unit locations", err)
	}
	byUnit := make(map[string]models.UnitLocation, len(locs))
	for _, l := range locs {
		byUnit[l.UnitID] = l
	}

	out := make([]models.UnitStatus, 0, len(units))
	for _, u := range units {
		status := models.UnitStatus{Unit: u}
		if l, ok := byUnit[u.ID]; ok {
			l := l
			status.Location = &l
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
