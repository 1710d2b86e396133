package services

import (
	"context"
	"fmt"
	"time"

	"civic-dispatch-backend/internal/dispatch"
	"civic-dispatch-backend/internal/models"
	"civic-dispatch-backend/pkg/errs"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	UpsertDeviceToken(ctx context.Context, t *models.DeviceToken) error
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	DeleteDeviceToken(ctx context.Context, token string) error
}

// Pusher delivers a push message; FCMService is the production one.
type Pusher interface {
	Push(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error)
}

// NotificationService stores in-app notifications and pushes them to the
// recipient's devices. Push failures never fail the call.
type NotificationService struct {
	store   NotificationStore
	pusher  Pusher
	timeout time.Duration
	now     func() time.Time
}

func NewNotificationService(store NotificationStore, pusher Pusher) *NotificationService {
	return &NotificationService{store: store, pusher: pusher, timeout: 10 * time.Second, now: time.Now}
}

func (s *NotificationService) Notify(ctx context.Context, recipientID, title, message string, emergencyID *string) (*models.Notification, error) {
	n := &models.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		EmergencyID: emergencyID,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, errs.Wrap("notify", err)
	}
	s.push(ctx, n)
	return n, nil
}

func (s *NotificationService) push(ctx context.Context, n *models.Notification) {
	if s.pusher == nil {
		return
	}
	tokens, err := s.store.DeviceTokens(ctx, n.RecipientID)
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", n.RecipientID).Msg("⚠️  Could not load device tokens")
		return
	}
	data := map[string]string{"notification_id": n.ID}
	if n.EmergencyID != nil {
		data["emergency_id"] = *n.EmergencyID
	}
	stale, err := s.pusher.Push(ctx, tokens, n.Title, n.Message, data)
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", n.RecipientID).Msg("⚠️  Push delivery failed")
		return
	}
	for _, tok := range stale {
		if err := s.store.DeleteDeviceToken(ctx, tok); err != nil {
			log.Warn().Err(err).Msg("⚠️  Could not prune stale FCM token")
		}
	}
}

// NotifyAsync is the fire-and-forget form used from request handlers.
func (s *NotificationService) NotifyAsync(recipientID, title, message string, emergencyID *string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Notify(ctx, recipientID, title, message, emergencyID); err != nil {
			log.Error().Err(err).Str("recipient_id", recipientID).Msg("❌ Notification failed")
		}
	}()
}

func (s *NotificationService) List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListNotifications(ctx, recipientID, limit)
}

func (s *NotificationService) RegisterDevice(ctx context.Context, userID, token, deviceType string) error {
	if token == "" {
		return fmt.Errorf("token is required: %w", errs.ErrInvalidInput)
	}
	switch deviceType {
	case "ios", "android", "web":
	default:
		return fmt.Errorf("invalid device_type %q: %w", deviceType, errs.ErrInvalidInput)
	}
	return s.store.UpsertDeviceToken(ctx, &models.DeviceToken{
		UserID:     userID,
		Token:      token,
		DeviceType: deviceType,
		UpdatedAt:  s.now().Unix(),
	})
}

// DispatchNotifier turns dispatch events into notifications for the
// assigned unit and the citizen.
type DispatchNotifier struct {
	svc *NotificationService
}

func NewDispatchNotifier(svc *NotificationService) *DispatchNotifier {
	return &DispatchNotifier{svc: svc}
}

func (d *DispatchNotifier) Publish(e dispatch.Event) {
	if e.Emergency == nil {
		return
	}
	req := e.Emergency
	id := req.ID
	switch e.Type {
	case dispatch.EventUnitAssigned:
		d.svc.NotifyAsync(req.UnitID(), "New Emergency Assignment",
			fmt.Sprintf("%s emergency at (%.5f, %.5f). Proceed immediately.",
				req.ServiceType, req.Destination.Latitude, req.Destination.Longitude), &id)
	case dispatch.EventEmergencyCompleted:
		d.svc.NotifyAsync(req.CitizenID, "Help Has Arrived",
			"The responding unit has reached your location.", &id)
	case dispatch.EventEmergencyCancelled:
		if req.AssignedUnit != nil {
			d.svc.NotifyAsync(req.UnitID(), "Emergency Cancelled",
				"The emergency you were responding to has been cancelled.", &id)
		}
	}
}
