package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging"
)

// ChannelName - имя канала в конфигурации и метриках.
const ChannelName = "kafka"

// NotificationChannel публикует уведомления в Kafka topic.
type NotificationChannel struct {
	producer *Producer
	topic    string
}

// NewNotificationChannel создаёт Kafka-канал уведомлений.
func NewNotificationChannel(producer *Producer, topic string) *NotificationChannel {
	if topic == "" {
		topic = TopicNotifications
	}
	return &NotificationChannel{producer: producer, topic: topic}
}

// Name возвращает имя канала.
func (c *NotificationChannel) Name() string {
	return ChannelName
}

// Send публикует событие. Ключ сообщения сохраняет порядок событий одного товара/продажи.
func (c *NotificationChannel) Send(ctx context.Context, event domain.NotificationEvent) error {
	if c == nil || c.producer == nil {
		return fmt.Errorf("kafka notification channel is not initialized")
	}
	return c.producer.Publish(ctx, c.topic, event.Key(), messaging.NewNotificationMessage(event), map[string]string{
		HeaderEventType:  string(event.Type),
		HeaderRetryCount: strconv.Itoa(event.Attempt),
	})
}

// DeadLetterPublisher отправляет недоставленные уведомления в DLQ topic.
type DeadLetterPublisher struct {
	producer *Producer
	topic    string
}

// NewDeadLetterPublisher создаёт DLQ-паблишер.
func NewDeadLetterPublisher(producer *Producer, topic string) *DeadLetterPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DeadLetterPublisher{producer: producer, topic: topic}
}

// PublishDeadLetter публикует конверт с причиной отказа.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, channel string, event domain.NotificationEvent, cause error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dead letter publisher is not initialized")
	}
	msg := messaging.NewDeadLetterMessage(channel, event, cause)
	return p.producer.Publish(ctx, p.topic, event.Key(), msg, map[string]string{
		HeaderEventType:     string(event.Type),
		HeaderChannel:       channel,
		HeaderOriginalTopic: TopicNotifications,
		HeaderErrorMessage:  msg.Error,
		HeaderFailedAt:      msg.FailedAt.Format(time.RFC3339Nano),
	})
}

var (
	_ domain.NotificationChannel = (*NotificationChannel)(nil)
	_ domain.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
