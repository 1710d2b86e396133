package roads

import (
	"context"
	"time"

	"civic-dispatch-backend/internal/metrics"
	"civic-dispatch-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// RouteProvider returns an ordered path from -> to. Implementations must
// return at least two points on success.
type RouteProvider interface {
	GetRoute(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error)
}

// CachedRouteProvider is a RouteProvider that can tell a locally cached
// answer from a fresh upstream one.
type CachedRouteProvider interface {
	RouteProvider
	GetRouteCached(ctx context.Context, from, to models.Coordinate) (path []models.Coordinate, cached bool, err error)
}

// FallbackRouter asks Primary first and falls back to Fallback on any
// error or degenerate result. It never fails as long as Fallback doesn't.
type FallbackRouter struct {
	Primary  RouteProvider
	Fallback RouteProvider
	Metrics  *metrics.Metrics
}

func NewFallbackRouter(primary, fallback RouteProvider, m *metrics.Metrics) *FallbackRouter {
	return &FallbackRouter{Primary: primary, Fallback: fallback, Metrics: m}
}

func (r *FallbackRouter) GetRoute(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	if r.Primary != nil {
		start := time.Now()
		path, cached, err := r.primaryRoute(ctx, from, to)
		if !cached {
			r.Metrics.ObserveRouteLatency(time.Since(start).Seconds())
		}
		if err == nil && len(path) >= 2 {
			if cached {
				r.Metrics.RecordRoute("cache")
			} else {
				r.Metrics.RecordRoute("external")
			}
			return path, nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  External routing failed - using synthetic route")
		} else {
			log.Warn().Int("points", len(path)).Msg("⚠️  External route too short - using synthetic route")
		}
	}
	r.Metrics.RecordRoute("synthetic")
	return r.Fallback.GetRoute(ctx, from, to)
}

func (r *FallbackRouter) primaryRoute(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, bool, error) {
	if cp, ok := r.Primary.(CachedRouteProvider); ok {
		return cp.GetRouteCached(ctx, from, to)
	}
	path, err := r.Primary.GetRoute(ctx, from, to)
	return path, false, err
}
