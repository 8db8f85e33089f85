package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// LogChannel пишет уведомления в журнал приложения.
type LogChannel struct {
	logger *log.Entry
}

// NewLogChannel создаёт канал-журнал.
func NewLogChannel(logger *log.Entry) *LogChannel {
	if logger == nil {
		logger = log.WithField("component", "notify-log-channel")
	}
	return &LogChannel{logger: logger}
}

// Name возвращает имя канала.
func (c *LogChannel) Name() string {
	return "log"
}

// Send записывает событие с уровнем info.
func (c *LogChannel) Send(_ context.Context, event domain.NotificationEvent) error {
	c.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"sale_id":    event.SaleID,
		"item_id":    event.ItemID,
		"attempt":    event.Attempt,
	}).Info(FormatText(event))
	return nil
}

var _ domain.NotificationChannel = (*LogChannel)(nil)
