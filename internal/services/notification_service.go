package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

const notificationQueue = "notification_queue"

// NotificationEvent is what downstream notifiers consume when a booking
// reaches a terminal payment state. Delivery is at-least-once; handlers
// downstream are expected to dedupe on (booking id, status).
type NotificationEvent struct {
	BookingID int64     `json:"booking_id"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	At        time.Time `json:"at"`
}

// NotificationService pushes paid/cancelled events onto a shared Redis
// list for out-of-band dispatch. Fire-and-forget: callers log enqueue
// failures and move on.
type NotificationService struct {
	redis *redis.Client
}

func NewNotificationService(rdb *redis.Client) *NotificationService {
	return &NotificationService{redis: rdb}
}

// Enqueue appends the event to the notification queue.
func (s *NotificationService) Enqueue(ctx context.Context, event NotificationEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.redis.RPush(ctx, notificationQueue, data).Err()
}
