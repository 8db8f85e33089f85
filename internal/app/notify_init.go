package app

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/pos/internal/service/notify"
)

// notificationDependencies - каналы уведомлений и их ресурсы.
type notificationDependencies struct {
	bindings    []notify.Binding
	deadLetters domain.DeadLetterPublisher
	closeFn     func() error
}

// initNotifications собирает каналы по конфигурации. Недоступный брокер
// не мешает запуску: канал пропускается с предупреждением.
func initNotifications(cfg Config, logger *log.Entry) (*notificationDependencies, error) {
	deps := &notificationDependencies{}
	var closers []func() error
	deps.closeFn = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	logEvents, err := domain.ParseEventTypes(cfg.NotifyLogEvents)
	if err != nil {
		return nil, fmt.Errorf("notify log events: %w", err)
	}
	if len(logEvents) > 0 {
		deps.bindings = append(deps.bindings, notify.Binding{
			Channel: notify.NewLogChannel(logger.WithField("channel", "log")),
			Events:  logEvents,
		})
	}

	if strings.TrimSpace(cfg.TelegramToken) != "" {
		events, err := domain.ParseEventTypes(cfg.TelegramEvents)
		if err != nil {
			return nil, fmt.Errorf("telegram events: %w", err)
		}
		channel, err := notify.NewTelegramChannel(notify.TelegramConfig{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			APIURL: cfg.TelegramAPIURL,
		}, nil)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			deps.bindings = append(deps.bindings, notify.Binding{Channel: channel, Events: events})
		}
	}

	producer := initKafkaProducer(cfg.KafkaBrokers, logger)
	if producer != nil {
		closers = append(closers, producer.Close)
		events, err := domain.ParseEventTypes(cfg.KafkaEvents)
		if err != nil {
			_ = deps.closeFn()
			return nil, fmt.Errorf("kafka events: %w", err)
		}
		if len(events) > 0 {
			deps.bindings = append(deps.bindings, notify.Binding{
				Channel: kafka.NewNotificationChannel(producer, kafka.TopicNotifications),
				Events:  events,
			})
		}
		deps.deadLetters = kafka.NewDeadLetterPublisher(producer, kafka.TopicDeadLetterQueue)
	}

	if url := strings.TrimSpace(cfg.RabbitMQURL); url != "" {
		events, err := domain.ParseEventTypes(cfg.RabbitMQEvents)
		if err != nil {
			_ = deps.closeFn()
			return nil, fmt.Errorf("rabbitmq events: %w", err)
		}
		publisher, err := rabbitmq.Dial(url)
		if err != nil {
			logger.WithError(err).Warn("failed to connect to rabbitmq, continuing without rabbitmq channel")
		} else {
			closers = append(closers, publisher.Close)
			if len(events) > 0 {
				deps.bindings = append(deps.bindings, notify.Binding{Channel: publisher, Events: events})
			}
			logger.Info("rabbitmq publisher initialized")
		}
	}

	return deps, nil
}

// initKafkaProducer создаёт producer, если brokers не пустой.
// Ошибка подключения логируется, канал kafka в этом случае не создаётся.
func initKafkaProducer(brokers string, logger *log.Entry) *kafka.Producer {
	brokerList := splitList(brokers)
	if len(brokerList) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(brokerList, kafka.WithProducerLogger(logger.WithField("layer", "kafka")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer
}

func splitList(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
