package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civic-dispatch-backend/internal/geo"
	"civic-dispatch-backend/internal/metrics"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AverageSpeedKmh is the speed used for ETA estimates.
const AverageSpeedKmh = 40.0

var errStaleClaim = errors.New("unit claimed concurrently")

// Controller is the entry point for the dispatch flow. It is the only part
// of the engine that writes to the store.
type Controller struct {
	store       Store
	units       *UnitDirectory
	matcher     *Matcher
	sim         *Simulator
	events      EventSink
	metrics     *metrics.Metrics
	maxAttempts int
	now         func() time.Time
}

type ControllerOption func(*Controller)

func WithEventSink(sink EventSink) ControllerOption {
	return func(c *Controller) {
		if sink != nil {
			c.events = sink
		}
	}
}

func WithMetrics(m *metrics.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithMaxMatchAttempts bounds how often a claim that lost a race is retried.
func WithMaxMatchAttempts(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

func NewController(store Store, units *UnitDirectory, matcher *Matcher, sim *Simulator, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:       store,
		units:       units,
		matcher:     matcher,
		sim:         sim,
		events:      nopSink{},
		maxAttempts: 3,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEmergency stores a new request and tries to assign a unit. A request
// nobody could be matched to is returned PENDING with a nil error.
func (c *Controller) CreateEmergency(ctx context.Context, citizenID string, st models.ServiceType, dest models.Coordinate) (*models.EmergencyRequest, error) {
	if _, err := models.ParseServiceType(string(st)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrInvalidInput)
	}
	if !dest.Valid() {
		return nil, fmt.Errorf("destination out of range: %w", errs.ErrInvalidInput)
	}

	now := c.now().Unix()
	req := &models.EmergencyRequest{
		ID:          uuid.New().String(),
		CitizenID:   citizenID,
		ServiceType: st,
		Destination: dest,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateEmergency(ctx, req); err != nil {
		return nil, errs.Wrap("create emergency", err)
	}
	log.Info().
		Str("emergency_id", req.ID).
		Str("service_type", string(st)).
		Msgf("🚨 Emergency received at (%.5f, %.5f)", dest.Latitude, dest.Longitude)

	assigned, loc, err := c.assign(ctx, req)
	if err != nil {
		if errs.IsSoftDispatchMiss(err) {
			log.Warn().Str("emergency_id", req.ID).Err(err).Msg("⏳ Emergency awaiting assignment")
			return req, nil
		}
		return nil, err
	}

	if loc != nil {
		c.events.Publish(Event{Type: EventUnitAssigned, Emergency: assigned.Clone(), Location: loc})
	}
	return assigned, nil
}

// Outcome labels for dispatch_matches_total.
const (
	OutcomeAvailable = "available"
	OutcomeForced    = "forced"
	OutcomeNone      = "none"
)

// assign claims a unit for req and records the matching outcome once.
// Infrastructure errors and requests cancelled mid-match are not counted.
func (c *Controller) assign(ctx context.Context, req *models.EmergencyRequest) (*models.EmergencyRequest, *models.UnitLocation, error) {
	saved, loc, forced, err := c.claim(ctx, req)
	switch {
	case err == nil && loc != nil:
		outcome := OutcomeAvailable
		if forced {
			outcome = OutcomeForced
		}
		c.metrics.RecordMatch(string(req.ServiceType), outcome)
	case errs.IsSoftDispatchMiss(err):
		c.metrics.RecordMatch(string(req.ServiceType), OutcomeNone)
	}
	return saved, loc, err
}

// claim runs match-and-claim, retrying when the chosen unit was taken
// between the snapshot read and the lock. The last attempt accepts a busy
// unit if the policy allows forced assignment.
func (c *Controller) claim(ctx context.Context, req *models.EmergencyRequest) (*models.EmergencyRequest, *models.UnitLocation, bool, error) {
	exclude := make(map[string]bool)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		match, err := c.matcher.Match(ctx, req, exclude)
		if errors.Is(err, errs.ErrNoAvailableUnits) && len(exclude) > 0 && c.matcher.Policy().AllowForcedAssignment {
			// everyone left was excluded after losing races; fall back to forcing
			match, err = c.matcher.Match(ctx, req, nil)
		}
		if err != nil {
			return nil, nil, false, err
		}
		lastAttempt := attempt == c.maxAttempts

		var saved *models.EmergencyRequest
		var savedLoc *models.UnitLocation
		err = c.store.Atomically(ctx, func(tx Tx) error {
			locked, err := tx.LockEmergency(ctx, req.ID)
			if err != nil {
				return err
			}
			if locked.Status != models.StatusPending {
				// cancelled (or assigned) while we were matching
				saved = locked
				return nil
			}
			loc, err := c.units.LockLocation(ctx, tx, match.Unit.ID)
			if err != nil {
				return err
			}
			forced := match.Forced
			if !loc.Available && !forced {
				if !lastAttempt {
					return errStaleClaim
				}
				if !c.matcher.Policy().AllowForcedAssignment {
					return errs.ErrNoAvailableUnits
				}
				forced = true
			}

			now := c.now().Unix()
			if err := c.units.SetAvailability(ctx, tx, loc, false, now); err != nil {
				return err
			}
			unitID := match.Unit.ID
			locked.AssignedUnit = &unitID
			locked.Status = models.StatusDispatched
			locked.UpdatedAt = now
			if err := tx.SaveEmergency(ctx, locked); err != nil {
				return err
			}
			match.Forced = forced
			saved, savedLoc = locked, loc
			return nil
		})
		if errors.Is(err, errStaleClaim) {
			log.Debug().Str("unit_id", match.Unit.ID).Int("attempt", attempt).Msg("🔁 Unit claimed concurrently, re-matching")
			exclude[match.Unit.ID] = true
			continue
		}
		if err != nil {
			return nil, nil, false, errs.Wrap("claim unit", err)
		}
		if savedLoc == nil {
			return saved, nil, false, nil
		}

		log.Info().
			Str("emergency_id", saved.ID).
			Str("unit_id", match.Unit.ID).
			Str("unit", match.Unit.Name).
			Float64("distance_km", match.DistanceKm).
			Bool("forced", match.Forced).
			Bool("broadened", match.Broadened).
			Msg("🚑 Unit dispatched")
		return saved, savedLoc, match.Forced, nil
	}
	return nil, nil, false, errs.ErrNoAvailableUnits
}

// SimulateStep advances the assigned unit by one tick.
func (c *Controller) SimulateStep(ctx context.Context, id string) (StepResult, error) {
	var (
		res       StepResult
		prev      models.EmergencyStatus
		committed *models.EmergencyRequest
		loc       *models.UnitLocation
		moved     bool
	)
	err := c.store.Atomically(ctx, func(tx Tx) error {
		req, err := tx.LockEmergency(ctx, id)
		if err != nil {
			return err
		}
		if req.AssignedUnit == nil {
			return errs.ErrNoUnitAssigned
		}
		prev = req.Status
		if req.Status.Terminal() {
			var l *models.UnitLocation
			if !req.Route.Active {
				if l, err = c.store.GetUnitLocation(ctx, req.UnitID()); err != nil && !errors.Is(err, errs.ErrNotFound) {
					return err
				}
			}
			res = Snapshot(req, l)
			return nil
		}

		l, err := c.units.LockLocation(ctx, tx, req.UnitID())
		if err != nil {
			return err
		}
		res, err = c.sim.Advance(ctx, req, l)
		if err != nil {
			return err
		}
		now := c.now().Unix()
		req.UpdatedAt = now
		l.UpdatedAt = now
		if err := tx.SaveUnitLocation(ctx, l); err != nil {
			return err
		}
		if err := tx.SaveEmergency(ctx, req); err != nil {
			return err
		}
		committed, loc, moved = req, l, true
		return nil
	})
	if err != nil {
		return StepResult{}, errs.Wrap("simulate step", err)
	}
	if !moved {
		return res, nil
	}

	c.metrics.RecordStep(string(res.Status))
	c.events.Publish(Event{Type: EventUnitLocation, Emergency: committed.Clone(), Location: loc, Bearing: res.Bearing})
	if res.Status != prev {
		c.events.Publish(Event{Type: EventStatusUpdate, Emergency: committed.Clone(), Location: loc})
	}
	if res.Arrived {
		log.Info().Str("emergency_id", id).Str("unit_id", committed.UnitID()).Msg("🏁 Unit arrived on scene")
		c.events.Publish(Event{Type: EventEmergencyCompleted, Emergency: committed.Clone(), Location: loc})
	}
	return res, nil
}

// UpdateUnitPosition records a position reported by the unit's own device.
func (c *Controller) UpdateUnitPosition(ctx context.Context, unitID string, pos models.Coordinate) (*models.UnitLocation, error) {
	if !pos.Valid() {
		return nil, fmt.Errorf("position out of range: %w", errs.ErrInvalidInput)
	}
	if _, err := c.units.GetUnit(ctx, unitID); err != nil {
		return nil, errs.Wrap("update unit position", err)
	}

	var saved *models.UnitLocation
	err := c.store.Atomically(ctx, func(tx Tx) error {
		loc, err := c.units.LockLocation(ctx, tx, unitID)
		if err != nil {
			return err
		}
		loc.Position = pos
		loc.UpdatedAt = c.now().Unix()
		if err := tx.SaveUnitLocation(ctx, loc); err != nil {
			return err
		}
		saved = loc
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("update unit position", err)
	}
	c.events.Publish(Event{Type: EventUnitLocation, Location: saved})
	return saved, nil
}

// EmergencyDetails is a request plus what a citizen's tracking screen shows.
type EmergencyDetails struct {
	Emergency  *models.EmergencyRequest `json:"emergency"`
	Unit       *models.UnitStatus       `json:"unit,omitempty"`
	DistanceKm *float64                 `json:"distance_km,omitempty"`
	ETAMinutes *int                     `json:"eta_minutes,omitempty"`
}

func (c *Controller) GetEmergency(ctx context.Context, id string) (*EmergencyDetails, error) {
	req, err := c.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, errs.Wrap("get emergency", err)
	}
	details := &EmergencyDetails{Emergency: req}
	if req.AssignedUnit == nil {
		return details, nil
	}

	unit, err := c.units.GetUnit(ctx, req.UnitID())
	if err != nil {
		return nil, errs.Wrap("get assigned unit", err)
	}
	status := &models.UnitStatus{Unit: *unit}
	loc, err := c.store.GetUnitLocation(ctx, unit.ID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Wrap("get unit location", err)
	}
	status.Location = loc
	details.Unit = status

	if loc != nil && !req.Status.Terminal() {
		d := geo.DistanceKm(loc.Position, req.Destination)
		eta := geo.EstimateETAMinutes(d, AverageSpeedKmh)
		details.DistanceKm = &d
		details.ETAMinutes = &eta
	}
	return details, nil
}

// CancelEmergency moves a non-terminal request to CANCELLED and frees its unit.
func (c *Controller) CancelEmergency(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	var (
		cancelled *models.EmergencyRequest
		loc       *models.UnitLocation
	)
	err := c.store.Atomically(ctx, func(tx Tx) error {
		req, err := tx.LockEmergency(ctx, id)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return fmt.Errorf("emergency already %s: %w", req.Status, errs.ErrConflict)
		}
		now := c.now().Unix()
		if req.AssignedUnit != nil {
			l, err := c.units.LockLocation(ctx, tx, req.UnitID())
			if err != nil {
				return err
			}
			if err := c.units.SetAvailability(ctx, tx, l, true, now); err != nil {
				return err
			}
			loc = l
		}
		req.Status = models.StatusCancelled
		req.UpdatedAt = now
		if err := tx.SaveEmergency(ctx, req); err != nil {
			return err
		}
		cancelled = req
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("cancel emergency", err)
	}
	log.Info().Str("emergency_id", id).Msg("🛑 Emergency cancelled")
	c.events.Publish(Event{Type: EventEmergencyCancelled, Emergency: cancelled.Clone(), Location: loc})
	return cancelled, nil
}

// ResetAvailability marks every unit available again. Operator recovery tool.
func (c *Controller) ResetAvailability(ctx context.Context) (int64, error) {
	n, err := c.store.ResetAvailability(ctx)
	if err != nil {
		return 0, errs.Wrap("reset availability", err)
	}
	log.Warn().Int64("units", n).Msg("♻️  Unit availability reset")
	return n, nil
}

// ListUnits returns every field unit with its live location.
func (c *Controller) ListUnits(ctx context.Context) ([]models.UnitStatus, error) {
	return c.units.List(ctx)
}
