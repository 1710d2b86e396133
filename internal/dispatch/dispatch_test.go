package dispatch_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"civic-dispatch-backend/internal/database"
	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/geo"
	"civic-dispatch-backend/internal/metrics"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/internal/services/roads"
	"civic-dispatch-backend/pkg/errs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	office = models.Coordinate{Latitude: 27.7172, Longitude: 85.3240}
	scene  = models.Coordinate{Latitude: 27.7300, Longitude: 85.3300}
)

var departments = map[models.ServiceType]string{
	models.ServiceAmbulance: "Health",
	models.ServiceFire:      "Fire",
	models.ServicePolice:    "Police",
}

type recordingSink struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (r *recordingSink) Publish(e dispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store *database.MemoryStore
	ctrl  *dispatch.Controller
	sink  *recordingSink
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, policy dispatch.Policy) *harness {
	return newHarnessWithRouter(t, policy, roads.NewFallbackRouter(nil, roads.NewSyntheticRouter(30, 0.0015), nil))
}

func newHarnessWithRouter(t *testing.T, policy dispatch.Policy, router roads.RouteProvider) *harness {
	t.Helper()
	store := database.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	units := dispatch.NewUnitDirectory(store, store, departments, office)
	sim := dispatch.NewSimulator(router, dispatch.DefaultSimulatorConfig(), rand.New(rand.NewSource(1)))
	sink := &recordingSink{}
	ctrl := dispatch.NewController(store, units, dispatch.NewMatcher(units, policy), sim,
		dispatch.WithEventSink(sink),
		dispatch.WithMetrics(m),
		dispatch.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	)
	return &harness{store: store, ctrl: ctrl, sink: sink, reg: reg}
}

// matchCounts sums dispatch_matches_total by outcome.
func (h *harness) matchCounts(t *testing.T) map[string]float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "dispatch_matches_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "outcome" {
					out[lp.GetValue()] += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

func (h *harness) addUnit(t *testing.T, id, dept string, pos models.Coordinate, available bool) {
	t.Helper()
	ctx := context.Background()
	d, err := h.store.UpsertDepartment(ctx, &models.Department{ID: "dept-" + dept, Name: dept})
	require.NoError(t, err)
	require.NoError(t, h.store.CreateUser(ctx, &models.User{
		ID: id, Phone: "phone-" + id, Name: id, Role: models.RoleFieldOfficial, DepartmentID: &d.ID,
	}))
	require.NoError(t, h.store.SetUnitLocation(ctx, &models.UnitLocation{UnitID: id, Position: pos, Available: available}))
}

func (h *harness) available(t *testing.T, id string) bool {
	t.Helper()
	loc, err := h.store.GetUnitLocation(context.Background(), id)
	require.NoError(t, err)
	return loc.Available
}

// pointAt returns a coordinate km north of scene.
func pointAt(km float64) models.Coordinate {
	return geo.Destination(scene, 0, km)
}

func TestMatcherPicksNearestAvailable(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "far", "Health", pointAt(5), true)
	h.addUnit(t, "near", "Health", pointAt(1), true)
	h.addUnit(t, "closest-but-police", "Police", pointAt(0.2), true)

	req, err := h.ctrl.CreateEmergency(context.Background(), "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, req.Status)
	assert.Equal(t, "near", req.UnitID())
	assert.False(t, h.available(t, "near"))
	assert.True(t, h.available(t, "far"))
	assert.Equal(t, []string{dispatch.EventUnitAssigned}, h.sink.types())
}

func TestMatcherPrefersAvailableOverCloserBusy(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "busy", "Health", pointAt(0.5), false)
	h.addUnit(t, "free", "Health", pointAt(4), true)

	req, err := h.ctrl.CreateEmergency(context.Background(), "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	assert.Equal(t, "free", req.UnitID())
	assert.Equal(t, map[string]float64{dispatch.OutcomeAvailable: 1}, h.matchCounts(t))
}

func TestForcedAssignmentOfBusyUnit(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "only", "Health", pointAt(2), false)

	req, err := h.ctrl.CreateEmergency(context.Background(), "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, req.Status)
	assert.Equal(t, "only", req.UnitID())
	assert.False(t, h.available(t, "only"))
	assert.Equal(t, map[string]float64{dispatch.OutcomeForced: 1}, h.matchCounts(t))
}

func TestForcedAssignmentDisabledLeavesPending(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: false})
	h.addUnit(t, "only", "Health", pointAt(2), false)

	req, err := h.ctrl.CreateEmergency(context.Background(), "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.AssignedUnit)
	assert.Equal(t, map[string]float64{dispatch.OutcomeNone: 1}, h.matchCounts(t))
}

func TestBroadensToAllUnitsWhenNoDepartmentMatches(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "cop", "Police", pointAt(1), true)

	req, err := h.ctrl.CreateEmergency(context.Background(), "citizen", models.ServiceFire, scene)
	require.NoError(t, err)
	assert.Equal(t, "cop", req.UnitID())
}

func TestNoUnitsLeavesPending(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})

	req, err := h.ctrl.CreateEmergency(context.Background(), "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.AssignedUnit)

	stored, err := h.store.GetEmergency(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	_, err = h.ctrl.SimulateStep(context.Background(), req.ID)
	assert.ErrorIs(t, err, errs.ErrNoUnitAssigned)
}

func TestCreateEmergencyValidatesInput(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	_, err := h.ctrl.CreateEmergency(context.Background(), "c", "TAXI", scene)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = h.ctrl.CreateEmergency(context.Background(), "c", models.ServicePolice, models.Coordinate{Latitude: 95})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestEndToEndDispatchUntilArrival(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", office, true)
	ctx := context.Background()

	req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	require.Equal(t, models.StatusDispatched, req.Status)
	require.Equal(t, "amb", req.UnitID())

	first, err := h.ctrl.SimulateStep(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnRoute, first.Status)
	assert.GreaterOrEqual(t, len(first.Route), 2)
	assert.False(t, first.Repositioned)
	assert.GreaterOrEqual(t, first.Bearing, 0.0)
	assert.Less(t, first.Bearing, 360.0)

	last := first
	for i := 0; i < 100 && last.Status != models.StatusArrived; i++ {
		last, err = h.ctrl.SimulateStep(ctx, req.ID)
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusArrived, last.Status)
	assert.Less(t, geo.DistanceMeters(last.Position, scene), 150.0)
	assert.True(t, h.available(t, "amb"))

	// further polls are no-ops
	again, err := h.ctrl.SimulateStep(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, last.Position, again.Position)
	assert.Equal(t, models.StatusArrived, again.Status)

	loc, err := h.store.GetUnitLocation(ctx, "amb")
	require.NoError(t, err)
	assert.Equal(t, last.Position, loc.Position)

	types := h.sink.types()
	assert.Contains(t, types, dispatch.EventStatusUpdate)
	assert.Equal(t, dispatch.EventEmergencyCompleted, types[len(types)-1])
}

func TestSimulateStepUnknownRequest(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	_, err := h.ctrl.SimulateStep(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSimulateStepRepositionsFarAwayUnit(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", models.Coordinate{Latitude: 28.2, Longitude: 83.98}, true)
	ctx := context.Background()

	req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)

	res, err := h.ctrl.SimulateStep(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Repositioned)
	assert.InDelta(t, 2000, geo.DistanceMeters(res.Route[0], scene), 1)
}

func TestSimulateStepRepositionsUnitAlreadyOnScene(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", geo.Destination(scene, 90, 0.01), true)
	ctx := context.Background()

	req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)

	res, err := h.ctrl.SimulateStep(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Repositioned)
	assert.Equal(t, models.StatusEnRoute, res.Status)
}

func TestCancelEmergencyReleasesUnit(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", office, true)
	ctx := context.Background()

	req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)
	_, err = h.ctrl.SimulateStep(ctx, req.ID)
	require.NoError(t, err)

	cancelled, err := h.ctrl.CancelEmergency(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.True(t, h.available(t, "amb"))

	_, err = h.ctrl.CancelEmergency(ctx, req.ID)
	assert.ErrorIs(t, err, errs.ErrConflict)

	res, err := h.ctrl.SimulateStep(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, res.Status)
}

func TestGetEmergencyDetails(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", pointAt(4), true)
	ctx := context.Background()

	req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)

	details, err := h.ctrl.GetEmergency(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, details.Unit)
	assert.Equal(t, "Health", details.Unit.Department)
	require.NotNil(t, details.ETAMinutes)
	assert.InDelta(t, 4, *details.DistanceKm, 0.01)
	assert.Equal(t, 6, *details.ETAMinutes)

	_, err = h.ctrl.GetEmergency(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateUnitPosition(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", office, true)
	ctx := context.Background()

	loc, err := h.ctrl.UpdateUnitPosition(ctx, "amb", scene)
	require.NoError(t, err)
	assert.Equal(t, scene, loc.Position)
	assert.True(t, loc.Available)

	_, err = h.ctrl.UpdateUnitPosition(ctx, "ghost", scene)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = h.ctrl.UpdateUnitPosition(ctx, "amb", models.Coordinate{Longitude: 200})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestResetAvailabilityAndListUnits(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "a", "Health", office, false)
	h.addUnit(t, "b", "Fire", office, false)
	ctx := context.Background()

	n, err := h.ctrl.ResetAvailability(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	units, err := h.ctrl.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	for _, u := range units {
		require.NotNil(t, u.Location)
		assert.True(t, u.Location.Available)
	}
}

func TestConcurrentEmergenciesSpreadAcrossUnits(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: false})
	for i, id := range []string{"u1", "u2", "u3", "u4"} {
		h.addUnit(t, id, "Health", pointAt(float64(i+1)), true)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.EmergencyRequest, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
			assert.NoError(t, err)
			results[i] = req
		}(i)
	}
	wg.Wait()

	assigned := map[string]int{}
	for _, r := range results {
		require.NotNil(t, r)
		if r.AssignedUnit != nil {
			assigned[r.UnitID()]++
		}
	}
	for id, n := range assigned {
		assert.Equal(t, 1, n, "unit %s double-booked with forced assignment off", id)
	}
}

func TestConcurrentEmergenciesCountEachOutcomeOnce(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "u1", "Health", pointAt(1), true)
	h.addUnit(t, "u2", "Health", pointAt(2), true)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counts := h.matchCounts(t)
	total := 0.0
	for _, v := range counts {
		total += v
	}
	assert.Equal(t, float64(n), total)
	assert.Equal(t, 2.0, counts[dispatch.OutcomeAvailable])
	assert.Zero(t, counts[dispatch.OutcomeNone])
}

func TestConcurrentStepsOnSameRequest(t *testing.T) {
	h := newHarness(t, dispatch.Policy{AllowForcedAssignment: true})
	h.addUnit(t, "amb", "Health", office, true)
	ctx := context.Background()

	req, err := h.ctrl.CreateEmergency(ctx, "citizen", models.ServiceAmbulance, scene)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.SimulateStep(ctx, req.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := h.store.GetEmergency(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Route.Step)
	loc, err := h.store.GetUnitLocation(ctx, "amb")
	require.NoError(t, err)
	assert.Equal(t, stored.Route.Path[10], loc.Position)
}
