// Package rabbitmq публикует уведомления в topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging"
)

const (
	// EventsExchange - topic exchange для уведомлений кассы.
	EventsExchange = "pos.events"
	// ChannelName - имя канала в конфигурации и метриках.
	ChannelName = "rabbitmq"

	publishTimeout = 3 * time.Second
)

// AMQPChannel - подмножество *amqp.Channel, используемое паблишером.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher реализует domain.NotificationChannel поверх AMQP.
type Publisher struct {
	ch   AMQPChannel
	conn *amqp.Connection
}

// Dial подключается к брокеру и объявляет exchange.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	publisher, err := NewPublisher(ch)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

// NewPublisher объявляет exchange на готовом канале.
func NewPublisher(ch AMQPChannel) (*Publisher, error) {
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

func declareEventsExchange(ch AMQPChannel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// Name возвращает имя канала.
func (p *Publisher) Name() string {
	return ChannelName
}

// Send публикует событие с routing key notification.<type>.v1.
func (p *Publisher) Send(ctx context.Context, event domain.NotificationEvent) error {
	body, err := json.Marshal(messaging.NewNotificationMessage(event))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.publishJSON(ctx, messaging.RoutingKey(event.Type), event.ID, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey, messageID string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Close закрывает канал и соединение, если паблишер их открыл.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if connErr := p.conn.Close(); err == nil {
			err = connErr
		}
	}
	return err
}

var _ domain.NotificationChannel = (*Publisher)(nil)
