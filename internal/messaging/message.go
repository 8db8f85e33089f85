// Package messaging описывает формат уведомлений, публикуемых во внешние брокеры.
package messaging

import (
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// NotificationMessage - JSON-конверт уведомления для брокеров.
type NotificationMessage struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	SaleID      string         `json:"sale_id,omitempty"`
	ItemID      string         `json:"item_id,omitempty"`
	Attempt     int            `json:"attempt"`
	OccurredAt  time.Time      `json:"occurred_at"`
	PublishedAt time.Time      `json:"published_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Key - ключ партиционирования: товар, затем продажа, затем ID события.
func (m NotificationMessage) Key() string {
	switch {
	case m.ItemID != "":
		return m.ItemID
	case m.SaleID != "":
		return m.SaleID
	}
	return m.ID
}

// DeadLetterMessage - конверт недоставленного уведомления.
type DeadLetterMessage struct {
	Channel      string              `json:"channel"`
	Error        string              `json:"error"`
	Notification NotificationMessage `json:"notification"`
	FailedAt     time.Time           `json:"failed_at"`
}

// NewNotificationMessage строит конверт из доменного события.
func NewNotificationMessage(event domain.NotificationEvent) NotificationMessage {
	return NotificationMessage{
		ID:          event.ID,
		EventType:   string(event.Type),
		SaleID:      event.SaleID,
		ItemID:      event.ItemID,
		Attempt:     event.Attempt,
		OccurredAt:  event.OccurredAt.UTC(),
		PublishedAt: time.Now().UTC(),
		Payload:     event.Payload,
	}
}

// NewDeadLetterMessage строит конверт для dead-letter топика.
func NewDeadLetterMessage(channel string, event domain.NotificationEvent, cause error) DeadLetterMessage {
	msg := DeadLetterMessage{
		Channel:      channel,
		Notification: NewNotificationMessage(event),
		FailedAt:     time.Now().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	return msg
}

// RoutingKey возвращает версионированный ключ маршрутизации, например notification.low_stock.v1.
func RoutingKey(eventType domain.EventType) string {
	return "notification." + string(eventType) + ".v1"
}
