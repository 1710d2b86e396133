package websocket

import (
	"time"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/internal/services/roads"
)

// DispatchBroadcaster pushes dispatch events to the citizen, the unit and
// every connected admin. Position updates are throttled per unit.
type DispatchBroadcaster struct {
	hub       *Hub
	optimizer *roads.LocationOptimizer
	now       func() time.Time
}

func NewDispatchBroadcaster(hub *Hub, optimizer *roads.LocationOptimizer) *DispatchBroadcaster {
	return &DispatchBroadcaster{hub: hub, optimizer: optimizer, now: time.Now}
}

type emergencyPayload struct {
	EmergencyID string                 `json:"emergency_id"`
	ServiceType models.ServiceType     `json:"service_type"`
	Status      models.EmergencyStatus `json:"status"`
	UnitID      string                 `json:"unit_id,omitempty"`
	Latitude    *float64               `json:"latitude,omitempty"`
	Longitude   *float64               `json:"longitude,omitempty"`
	Bearing     *float64               `json:"bearing,omitempty"`
	Destination models.Coordinate      `json:"destination"`
}

type unitPayload struct {
	UnitID    string  `json:"unit_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Available bool    `json:"available"`
	UpdatedAt int64   `json:"updated_at"`
}

func (b *DispatchBroadcaster) Publish(e dispatch.Event) {
	if e.Type == dispatch.EventUnitLocation && e.Location != nil && b.optimizer != nil {
		if !b.optimizer.ShouldBroadcast(e.Location.UnitID, e.Location.Position, b.now()) {
			return
		}
	}
	if e.Location != nil && (e.Type == dispatch.EventEmergencyCompleted || e.Type == dispatch.EventEmergencyCancelled) && b.optimizer != nil {
		b.optimizer.Forget(e.Location.UnitID)
	}

	var data interface{}
	if e.Emergency != nil {
		p := emergencyPayload{
			EmergencyID: e.Emergency.ID,
			ServiceType: e.Emergency.ServiceType,
			Status:      e.Emergency.Status,
			UnitID:      e.Emergency.UnitID(),
			Destination: e.Emergency.Destination,
		}
		if e.Location != nil {
			lat, lng := e.Location.Position.Latitude, e.Location.Position.Longitude
			p.Latitude, p.Longitude = &lat, &lng
		}
		if e.Type == dispatch.EventUnitLocation {
			bearing := e.Bearing
			p.Bearing = &bearing
		}
		data = p
	} else if e.Location != nil {
		data = unitPayload{
			UnitID:    e.Location.UnitID,
			Latitude:  e.Location.Position.Latitude,
			Longitude: e.Location.Position.Longitude,
			Available: e.Location.Available,
			UpdatedAt: e.Location.UpdatedAt,
		}
	} else {
		return
	}

	msg := OutgoingMessage{Type: e.Type, Data: data}
	if e.Emergency != nil {
		b.hub.BroadcastToUser(e.Emergency.CitizenID, msg)
		if e.Type != dispatch.EventUnitLocation {
			b.hub.BroadcastToUser(e.Emergency.UnitID(), msg)
		}
	}
	b.hub.BroadcastToRole(models.RoleSuperAdmin, msg)
	b.hub.BroadcastToRole(models.RoleDeptAdmin, msg)
}
