package dispatch

import (
	"context"
	"math/rand"
	"sync"

	"civic-dispatch-backend/internal/geo"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/internal/services/roads"
	"civic-dispatch-backend/pkg/errs"

	"github.com/rs/zerolog/log"
)

// SimulatorConfig holds the movement thresholds. Distances are meters unless
// the name says otherwise.
type SimulatorConfig struct {
	Stride               int
	ArrivalRadius        float64
	EndOfRouteArrival    float64
	MinStartDistance     float64
	MaxStartDistanceKm   float64
	RepositionDistanceKm float64
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Stride:               2,
		ArrivalRadius:        40,
		EndOfRouteArrival:    150,
		MinStartDistance:     50,
		MaxStartDistanceKm:   30,
		RepositionDistanceKm: 2,
	}
}

// StepResult is the snapshot returned to a polling client.
type StepResult struct {
	Position     models.Coordinate      `json:"position"`
	Bearing      float64                `json:"bearing"`
	Status       models.EmergencyStatus `json:"status"`
	Route        models.Path            `json:"route"`
	RouteStep    int                    `json:"route_step"`
	Arrived      bool                   `json:"arrived"`
	Repositioned bool                   `json:"repositioned"`
	NewRoute     bool                   `json:"-"`
}

// Simulator advances a unit along its route. It mutates the request and
// location it is handed; persisting them is the caller's job.
type Simulator struct {
	router roads.RouteProvider
	cfg    SimulatorConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(router roads.RouteProvider, cfg SimulatorConfig, rng *rand.Rand) *Simulator {
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Simulator{router: router, cfg: cfg, rng: rng}
}

func (s *Simulator) randomBearing() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 360
}

// Advance moves the unit one tick toward req.Destination. Terminal requests
// are returned unchanged.
func (s *Simulator) Advance(ctx context.Context, req *models.EmergencyRequest, loc *models.UnitLocation) (StepResult, error) {
	if req.Status.Terminal() {
		return Snapshot(req, loc), nil
	}
	dest := req.Destination
	res := StepResult{}

	dist := geo.DistanceMeters(loc.Position, dest)
	if (dist < s.cfg.MinStartDistance && !req.Route.Active) || dist > s.cfg.MaxStartDistanceKm*1000 {
		bearing := s.randomBearing()
		loc.Position = geo.Destination(dest, bearing, s.cfg.RepositionDistanceKm)
		req.Route = models.RouteState{}
		res.Repositioned = true
		log.Debug().
			Str("emergency_id", req.ID).
			Float64("distance_m", dist).
			Msg("📍 Unit repositioned before routing")
	}

	if !req.Route.Active || req.Route.AtEnd() {
		path, err := s.router.GetRoute(ctx, loc.Position, dest)
		if err != nil {
			return StepResult{}, errs.Wrap("acquire route", err)
		}
		if len(path) < 2 {
			path = []models.Coordinate{loc.Position, dest}
		}
		if geo.DistanceMeters(path[len(path)-1], dest) >= s.cfg.EndOfRouteArrival {
			// road network stops short of the scene; finish the last stretch off-road
			path = append(models.Path(path).Clone(), dest)
		}
		req.Route = models.RouteState{Path: path, Step: 0, Active: true}
		res.NewRoute = true
	}

	next := req.Route.Step + s.cfg.Stride
	if last := len(req.Route.Path) - 1; next > last {
		next = last
	}
	req.Route.Step = next
	loc.Position = req.Route.Path[next]

	dist = geo.DistanceMeters(loc.Position, dest)
	if dist < s.cfg.ArrivalRadius || (req.Route.AtEnd() && dist < s.cfg.EndOfRouteArrival) {
		req.Status = models.StatusArrived
		loc.Available = true
		res.Arrived = true
	} else if req.Status == models.StatusDispatched {
		req.Status = models.StatusEnRoute
	}

	res.Position = loc.Position
	res.Bearing = geo.BearingDegrees(loc.Position, dest)
	res.Status = req.Status
	res.Route = req.Route.Path
	res.RouteStep = req.Route.Step
	return res, nil
}

// Snapshot describes req without moving anything. Once a route exists the
// position is the route point, so it stays fixed after arrival even if the
// unit has moved on to other work.
func Snapshot(req *models.EmergencyRequest, loc *models.UnitLocation) StepResult {
	pos, ok := req.Route.Current()
	if !ok && loc != nil {
		pos = loc.Position
	}
	return StepResult{
		Position:  pos,
		Bearing:   geo.BearingDegrees(pos, req.Destination),
		Status:    req.Status,
		Route:     req.Route.Path,
		RouteStep: req.Route.Step,
		Arrived:   req.Status == models.StatusArrived,
	}
}
