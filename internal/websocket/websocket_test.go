package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/middleware"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/internal/services/roads"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "ws-secret"

type fakeReporter struct {
	mu    sync.Mutex
	calls []models.Coordinate
}

func (f *fakeReporter) UpdateUnitPosition(_ context.Context, unitID string, pos models.Coordinate) (*models.UnitLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pos)
	return &models.UnitLocation{UnitID: unitID, Position: pos}, nil
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func startServer(t *testing.T, reporter PositionReporter) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(HandleWebSocket(hub, secret, reporter))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user *models.User) *websocket.Conn {
	t.Helper()
	tok, err := middleware.IssueToken(secret, user, time.Now())
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) OutgoingMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg OutgoingMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitConnected(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.IsUserConnected(userID) }, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	_, srv := startServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestPingPong(t *testing.T) {
	hub, srv := startServer(t, nil)
	conn := dial(t, srv, &models.User{ID: "c1", Role: models.RoleCitizen})
	waitConnected(t, hub, "c1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestBroadcasterRoutesEmergencyEvents(t *testing.T) {
	hub, srv := startServer(t, nil)
	citizen := dial(t, srv, &models.User{ID: "c1", Role: models.RoleCitizen})
	admin := dial(t, srv, &models.User{ID: "a1", Role: models.RoleSuperAdmin})
	waitConnected(t, hub, "c1")
	waitConnected(t, hub, "a1")

	b := NewDispatchBroadcaster(hub, roads.NewLocationOptimizer())
	unit := "u1"
	b.Publish(dispatch.Event{
		Type: dispatch.EventUnitLocation,
		Emergency: &models.EmergencyRequest{
			ID: "e1", CitizenID: "c1", AssignedUnit: &unit, Status: models.StatusEnRoute,
		},
		Location: &models.UnitLocation{UnitID: "u1", Position: models.Coordinate{Latitude: 27.72, Longitude: 85.32}},
		Bearing:  45,
	})

	msg := readMessage(t, citizen)
	assert.Equal(t, dispatch.EventUnitLocation, msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "e1", data["emergency_id"])
	assert.Equal(t, 45.0, data["bearing"])
	assert.Equal(t, 27.72, data["latitude"])

	assert.Equal(t, dispatch.EventUnitLocation, readMessage(t, admin).Type)
}

func TestBroadcasterThrottlesStationaryUnit(t *testing.T) {
	hub := NewHub()
	b := NewDispatchBroadcaster(hub, roads.NewLocationOptimizer())
	fixed := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return fixed }

	loc := &models.UnitLocation{UnitID: "u1", Position: models.Coordinate{Latitude: 27.7, Longitude: 85.3}}
	b.Publish(dispatch.Event{Type: dispatch.EventUnitLocation, Location: loc})
	b.Publish(dispatch.Event{Type: dispatch.EventUnitLocation, Location: loc})

	stats := b.optimizer.GetStats()
	assert.Equal(t, int64(1), stats["broadcasts"])
	assert.Equal(t, int64(1), stats["skipped_by_delta"])
}

func TestLocationUpdateFromFieldUnit(t *testing.T) {
	reporter := &fakeReporter{}
	hub, srv := startServer(t, reporter)
	unit := dial(t, srv, &models.User{ID: "u1", Role: models.RoleFieldOfficial})
	citizen := dial(t, srv, &models.User{ID: "c1", Role: models.RoleCitizen})
	waitConnected(t, hub, "u1")
	waitConnected(t, hub, "c1")

	require.NoError(t, unit.WriteJSON(map[string]interface{}{
		"type": "location_update",
		"data": map[string]float64{"latitude": 27.71, "longitude": 85.31},
	}))
	require.NoError(t, citizen.WriteJSON(map[string]interface{}{
		"type": "location_update",
		"data": map[string]float64{"latitude": 1, "longitude": 1},
	}))

	assert.Eventually(t, func() bool { return reporter.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, reporter.count())

	require.NoError(t, unit.WriteJSON(map[string]interface{}{"type": "location_update", "data": map[string]float64{"latitude": 1}}))
	assert.Equal(t, "error", readMessage(t, unit).Type)
}
