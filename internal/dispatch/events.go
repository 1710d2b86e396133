package dispatch

import "civic-dispatch-backend/internal/models"

const (
	EventUnitAssigned       = "unit_assigned"
	EventUnitLocation       = "unit_location_update"
	EventStatusUpdate       = "status_update"
	EventEmergencyCompleted = "emergency_completed"
	EventEmergencyCancelled = "emergency_cancelled"
)

// Event is published after a unit of work commits.
type Event struct {
	Type      string
	Emergency *models.EmergencyRequest // nil for plain position reports
	Location  *models.UnitLocation
	Bearing   float64
}

// EventSink receives committed state changes. Publish must not block.
type EventSink interface {
	Publish(Event)
}

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(e)
		}
	}
}
