package roads

import (
	"fmt"
	"sync"
	"time"

	"civic-dispatch-backend/internal/geo"
	"civic-dispatch-backend/internal/models"
)

// LocationOptimizer decides which unit position updates are worth pushing to
// live-tracking subscribers. Persistence is never throttled, only fan-out.
type LocationOptimizer struct {
	lastPositions map[string]lastPosition // key: unit id
	mutex         sync.Mutex

	minDeltaMeters float64
	maxSilence     time.Duration

	processed int64
	skipped   int64
}

type lastPosition struct {
	position models.Coordinate
	at       time.Time
}

const (
	// MinPositionDelta is the minimum movement (meters) that triggers a broadcast.
	MinPositionDelta = 1.0
	// MaxTimeSinceLastBroadcast forces a broadcast for stationary units.
	MaxTimeSinceLastBroadcast = 2 * time.Second
)

func NewLocationOptimizer() *LocationOptimizer {
	return &LocationOptimizer{
		lastPositions:  make(map[string]lastPosition),
		minDeltaMeters: MinPositionDelta,
		maxSilence:     MaxTimeSinceLastBroadcast,
	}
}

// ShouldBroadcast reports whether pos differs enough from the last broadcast
// position of unitID (or enough time has passed) and records it if so.
func (o *LocationOptimizer) ShouldBroadcast(unitID string, pos models.Coordinate, now time.Time) bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	last, exists := o.lastPositions[unitID]
	if exists &&
		geo.DistanceMeters(last.position, pos) < o.minDeltaMeters &&
		now.Sub(last.at) <= o.maxSilence {
		o.skipped++
		return false
	}

	o.lastPositions[unitID] = lastPosition{position: pos, at: now}
	o.processed++
	return true
}

// Forget drops the remembered position of a unit, e.g. after arrival.
func (o *LocationOptimizer) Forget(unitID string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	delete(o.lastPositions, unitID)
}

func (o *LocationOptimizer) GetStats() map[string]interface{} {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	skipRate := 0.0
	if total := o.processed + o.skipped; total > 0 {
		skipRate = float64(o.skipped) / float64(total) * 100
	}
	return map[string]interface{}{
		"tracked_units":        len(o.lastPositions),
		"broadcasts":           o.processed,
		"skipped_by_delta":     o.skipped,
		"skip_rate":            fmt.Sprintf("%.2f%%", skipRate),
		"min_position_delta_m": o.minDeltaMeters,
	}
}
