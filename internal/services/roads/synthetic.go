package roads

import (
	"context"
	"math"

	"civic-dispatch-backend/internal/geo"
	"civic-dispatch-backend/internal/models"
)

const (
	DefaultSyntheticSteps     = 30
	DefaultSyntheticAmplitude = 0.0015
)

// SyntheticRouter builds a plausible-looking path without any network call:
// a straight line with a half-sine lateral bulge that is zero at both ends.
// Output is deterministic for a given input.
type SyntheticRouter struct {
	Steps     int
	Amplitude float64 // degrees
}

func NewSyntheticRouter(steps int, amplitude float64) *SyntheticRouter {
	if steps < 20 {
		steps = DefaultSyntheticSteps
	}
	if amplitude < 0 || amplitude > 0.002 {
		amplitude = DefaultSyntheticAmplitude
	}
	return &SyntheticRouter{Steps: steps, Amplitude: amplitude}
}

func (s *SyntheticRouter) GetRoute(_ context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	steps := s.Steps
	if steps < 20 {
		steps = DefaultSyntheticSteps
	}

	// unit vector perpendicular to the straight line, in degree space
	dLat := to.Latitude - from.Latitude
	dLon := to.Longitude - from.Longitude
	norm := math.Hypot(dLat, dLon)
	var perpLat, perpLon float64
	if norm > 0 {
		perpLat, perpLon = -dLon/norm, dLat/norm
	}

	path := make([]models.Coordinate, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := geo.Lerp(from, to, t)
		offset := s.Amplitude * math.Sin(math.Pi*t)
		p.Latitude += perpLat * offset
		p.Longitude += perpLon * offset
		path = append(path, p)
	}
	path[0] = from
	path[steps] = to
	return path, nil
}
