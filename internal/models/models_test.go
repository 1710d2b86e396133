package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceType(t *testing.T) {
	st, err := ParseServiceType(" ambulance ")
	require.NoError(t, err)
	assert.Equal(t, ServiceAmbulance, st)

	_, err = ParseServiceType("plumber")
	assert.Error(t, err)
}

func TestRouteState(t *testing.T) {
	var none RouteState
	assert.False(t, none.AtEnd())
	_, ok := none.Current()
	assert.False(t, ok)

	rs := RouteState{Path: Path{{1, 1}, {2, 2}, {3, 3}}, Step: 1, Active: true}
	assert.False(t, rs.AtEnd())
	c, ok := rs.Current()
	require.True(t, ok)
	assert.Equal(t, Coordinate{2, 2}, c)

	rs.Step = 2
	assert.True(t, rs.AtEnd())
}

func TestEmergencyCloneIsDeep(t *testing.T) {
	unit := "u1"
	e := &EmergencyRequest{ID: "e1", AssignedUnit: &unit, Route: RouteState{Path: Path{{1, 1}}, Active: true}}
	c := e.Clone()
	c.Route.Path[0].Latitude = 9
	*c.AssignedUnit = "u2"

	assert.Equal(t, 1.0, e.Route.Path[0].Latitude)
	assert.Equal(t, "u1", e.UnitID())
}

func TestPathScan(t *testing.T) {
	var p Path
	require.NoError(t, p.Scan([]byte(`[{"latitude":1,"longitude":2}]`)))
	assert.Equal(t, Path{{1, 2}}, p)
	require.NoError(t, p.Scan(nil))
	assert.Nil(t, p)
	assert.Error(t, p.Scan(42))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusArrived.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusEnRoute.Terminal())
}
