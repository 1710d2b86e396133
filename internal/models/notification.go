package models

// Notification is an in-app message for a user; push delivery is best effort.
type Notification struct {
	ID          string  `json:"id" db:"id"`
	RecipientID string  `json:"recipient_id" db:"recipient_id"`
	Title       string  `json:"title" db:"title"`
	Message     string  `json:"message" db:"message"`
	EmergencyID *string `json:"emergency_id,omitempty" db:"emergency_id"`
	IsRead      bool    `json:"is_read" db:"is_read"`
	CreatedAt   int64   `json:"created_at" db:"created_at"`
}

// DeviceToken is an FCM registration token for a user's device.
type DeviceToken struct {
	UserID     string `json:"user_id" db:"user_id"`
	Token      string `json:"token" db:"token"`
	DeviceType string `json:"device_type" db:"device_type"`
	UpdatedAt  int64  `json:"updated_at" db:"updated_at"`
}
