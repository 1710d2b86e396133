package dispatch

import (
	"context"
	"sort"

	"civic-dispatch-backend/internal/geo"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/rs/zerolog/log"
)

// Policy controls how far the matcher goes to produce an assignment.
type Policy struct {
	// AllowForcedAssignment lets the matcher pick a busy unit when no
	// candidate is available.
	AllowForcedAssignment bool
}

// Candidate is a unit ranked against one destination.
type Candidate struct {
	Unit       models.Unit
	Location   models.UnitLocation
	DistanceKm float64
}

// Match is the matcher's pick.
type Match struct {
	Candidate
	Forced    bool // unit was busy when ranked
	Broadened bool // no department matched; picked from all field units
}

type Matcher struct {
	units  *UnitDirectory
	policy Policy
}

func NewMatcher(units *UnitDirectory, policy Policy) *Matcher {
	return &Matcher{units: units, policy: policy}
}

func (m *Matcher) Policy() Policy {
	return m.policy
}

// Rank returns the candidates for req sorted by distance to its destination.
// When no unit belongs to the service's department it ranks every field unit.
func (m *Matcher) Rank(ctx context.Context, req *models.EmergencyRequest) ([]Candidate, bool, error) {
	units, err := m.units.FindCandidates(ctx, req.ServiceType)
	if err != nil {
		return nil, false, err
	}
	broadened := false
	if len(units) == 0 {
		broadened = true
		if units, err = m.units.AllUnits(ctx); err != nil {
			return nil, false, err
		}
		if len(units) > 0 {
			log.Warn().
				Str("service_type", string(req.ServiceType)).
				Int("units", len(units)).
				Msg("⚠️  No department units for service - broadening to all field units")
		}
	}

	ranked := make([]Candidate, 0, len(units))
	for _, u := range units {
		loc, err := m.units.EnsureLocation(ctx, u.ID)
		if err != nil {
			return nil, false, errs.Wrap("ensure unit location", err)
		}
		ranked = append(ranked, Candidate{
			Unit:       u,
			Location:   *loc,
			DistanceKm: geo.DistanceKm(loc.Position, req.Destination),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].DistanceKm != ranked[j].DistanceKm {
			return ranked[i].DistanceKm < ranked[j].DistanceKm
		}
		return ranked[i].Unit.ID < ranked[j].Unit.ID
	})
	return ranked, broadened, nil
}

// Select applies the two-tier pick to a ranked list: the nearest available
// unit, then (if the policy allows) the nearest unit at all.
func (m *Matcher) Select(ranked []Candidate, exclude map[string]bool) (*Match, error) {
	var nearest *Candidate
	for i := range ranked {
		c := &ranked[i]
		if exclude[c.Unit.ID] {
			continue
		}
		if c.Location.Available {
			return &Match{Candidate: *c}, nil
		}
		if nearest == nil {
			nearest = c
		}
	}
	if nearest == nil {
		// every candidate excluded counts as none left to try
		if len(ranked) == 0 {
			return nil, errs.ErrNoCandidateUnits
		}
		return nil, errs.ErrNoAvailableUnits
	}
	if !m.policy.AllowForcedAssignment {
		return nil, errs.ErrNoAvailableUnits
	}
	return &Match{Candidate: *nearest, Forced: true}, nil
}

// Match ranks and selects in one go.
func (m *Matcher) Match(ctx context.Context, req *models.EmergencyRequest, exclude map[string]bool) (*Match, error) {
	ranked, broadened, err := m.Rank(ctx, req)
	if err != nil {
		return nil, err
	}
	match, err := m.Select(ranked, exclude)
	if err != nil {
		return nil, err
	}
	match.Broadened = broadened
	return match, nil
}
