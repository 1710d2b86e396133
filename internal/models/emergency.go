package models

import (
	"fmt"
	"strings"
)

// ServiceType is the kind of response a citizen asks for.
type ServiceType string

const (
	ServiceAmbulance ServiceType = "AMBULANCE"
	ServiceFire      ServiceType = "FIRE"
	ServicePolice    ServiceType = "POLICE"
)

// ServiceTypes lists every supported service in a stable order.
var ServiceTypes = []ServiceType{ServiceAmbulance, ServiceFire, ServicePolice}

// ParseServiceType accepts any casing ("ambulance", "Fire", ...).
func ParseServiceType(s string) (ServiceType, error) {
	st := ServiceType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ServiceTypes {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown service type %q", s)
}

// EmergencyStatus moves forward only: PENDING -> DISPATCHED -> EN_ROUTE -> ARRIVED.
// CANCELLED is a terminal side exit reachable from any non-terminal state.
type EmergencyStatus string

const (
	StatusPending    EmergencyStatus = "PENDING"
	StatusDispatched EmergencyStatus = "DISPATCHED"
	StatusEnRoute    EmergencyStatus = "EN_ROUTE"
	StatusArrived    EmergencyStatus = "ARRIVED"
	StatusCancelled  EmergencyStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s EmergencyStatus) Terminal() bool {
	return s == StatusArrived || s == StatusCancelled
}

// RouteState is the cached route on a request plus the index the unit is at.
// Active is the explicit "a route has been acquired" flag; an empty Path with
// Active=false means no route yet.
type RouteState struct {
	Path   Path `json:"path"`
	Step   int  `json:"step"`
	Active bool `json:"active"`
}

// AtEnd reports whether the unit has consumed the whole route.
func (r RouteState) AtEnd() bool {
	return r.Active && len(r.Path) > 0 && r.Step >= len(r.Path)-1
}

// Current returns the coordinate at Step.
func (r RouteState) Current() (Coordinate, bool) {
	if !r.Active || r.Step < 0 || r.Step >= len(r.Path) {
		return Coordinate{}, false
	}
	return r.Path[r.Step], true
}

// EmergencyRequest is a citizen-initiated request for urgent response.
type EmergencyRequest struct {
	ID           string          `json:"id" db:"id"`
	CitizenID    string          `json:"citizen_id" db:"citizen_id"`
	ServiceType  ServiceType     `json:"service_type" db:"service_type"`
	Destination  Coordinate      `json:"destination"`
	Status       EmergencyStatus `json:"status" db:"status"`
	AssignedUnit *string         `json:"assigned_unit,omitempty" db:"assigned_unit_id"`
	Route        RouteState      `json:"route"`
	CreatedAt    int64           `json:"created_at" db:"created_at"`
	UpdatedAt    int64           `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy, so stores can hand out values without sharing
// the route slice.
func (e *EmergencyRequest) Clone() *EmergencyRequest {
	if e == nil {
		return nil
	}
	out := *e
	if e.AssignedUnit != nil {
		id := *e.AssignedUnit
		out.AssignedUnit = &id
	}
	out.Route.Path = e.Route.Path.Clone()
	return &out
}

// UnitID returns the assigned unit id or "".
func (e *EmergencyRequest) UnitID() string {
	if e.AssignedUnit == nil {
		return ""
	}
	return *e.AssignedUnit
}
