// Command dlq-reprocess переотправляет недоставленные уведомления из dead-letter топика
// обратно в основной. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

const (
	envKafkaBrokers    = "POS_KAFKA_BROKERS"
	replayClientID     = "pos-dlq-reprocess"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// errFiltered - сообщение корректно, но не проходит фильтры -channel/-events
// или относится к каналу, который не читает основной топик.
var errFiltered = errors.New("filtered out")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	channel     string
	eventTypes  map[domain.EventType]bool
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// offsetClient - часть sarama.Client, нужная для вычисления окна чтения.
type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

// publisher реализуется *kafka.Producer.
type publisher interface {
	Publish(ctx context.Context, topic, key string, payload any, headers map[string]string) error
	Close() error
}

type consumerSource struct {
	consumer sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s consumerSource) Close() error {
	return s.consumer.Close()
}

// summary - итог прогона. Invalid входит в Skipped.
type summary struct {
	Scanned  int
	Replayed int
	Skipped  int
	Invalid  int
}

func (s *summary) add(other summary) {
	s.Scanned += other.Scanned
	s.Replayed += other.Replayed
	s.Skipped += other.Skipped
	s.Invalid += other.Invalid
}

type replayer struct {
	cfg     config
	offsets offsetClient
	source  partitionSource
	sink    publisher
	logger  *log.Entry
	now     func() time.Time
}

// openReplayer подключается к Kafka. Producer создаётся только в режиме execute.
var openReplayer = func(cfg config) (*replayer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = replayClientID
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	r := newReplayer(cfg, client, consumerSource{consumer: consumer}, nil)
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers,
			kafka.WithClientID(replayClientID),
			kafka.WithProducerLogger(r.logger.WithField("layer", "kafka")),
		)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.sink = producer
	}
	return r, nil
}

func newReplayer(cfg config, offsets offsetClient, source partitionSource, sink publisher) *replayer {
	return &replayer{
		cfg:     cfg,
		offsets: offsets,
		source:  source,
		sink:    sink,
		logger:  log.WithField("component", "dlq-reprocess"),
		now:     time.Now,
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		cfg        config
		brokersRaw string
		eventsRaw  string
	)

	flag.StringVar(&brokersRaw, "brokers", "", "comma-separated Kafka brokers (default from "+envKafkaBrokers+")")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead-letter topic to scan")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicNotifications, "topic to republish notifications to")
	flag.StringVar(&cfg.channel, "channel", "", "only dead letters of this channel; only "+kafka.ChannelName+" is replayable")
	flag.StringVar(&eventsRaw, "events", "all", "notification types to replay, e.g. low_stock,out_of_stock")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max dead letters to scan across all partitions")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest dead letters of each partition")
	flag.BoolVar(&cfg.execute, "execute", false, "republish; without it only candidates are logged")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.channel = strings.TrimSpace(cfg.channel)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.targetTopic == "":
		return config{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, errors.New("source-topic and target-topic must differ")
	case cfg.channel != "" && cfg.channel != kafka.ChannelName:
		return config{}, fmt.Errorf("channel %q cannot be replayed: %s only feeds the %s channel", cfg.channel, cfg.targetTopic, kafka.ChannelName)
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	eventTypes, err := domain.ParseEventTypes(eventsRaw)
	if err != nil {
		return config{}, err
	}
	if len(eventTypes) == 0 {
		return config{}, errors.New("events must enable at least one notification type")
	}
	cfg.eventTypes = make(map[domain.EventType]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		cfg.eventTypes[eventType] = true
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) (summary, error) {
	r, err := openReplayer(cfg)
	if err != nil {
		return summary{}, err
	}
	defer func() { _ = r.Close() }()

	return r.Run(ctx)
}

// Close освобождает producer, consumer и клиент в обратном порядке создания.
func (r *replayer) Close() error {
	var errs []error
	if r.sink != nil {
		errs = append(errs, r.sink.Close())
	}
	if r.source != nil {
		errs = append(errs, r.source.Close())
	}
	if r.offsets != nil {
		errs = append(errs, r.offsets.Close())
	}
	return errors.Join(errs...)
}

// Run обходит партиции по возрастанию номера, пока не исчерпан общий лимит.
func (r *replayer) Run(ctx context.Context) (summary, error) {
	var total summary
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.sink == nil {
		return total, errors.New("producer is required in execute mode")
	}

	r.logger.WithFields(log.Fields{
		"source_topic": r.cfg.sourceTopic,
		"target_topic": r.cfg.targetTopic,
		"channel":      r.cfg.channel,
		"limit":        r.cfg.limit,
		"mode":         r.cfg.mode(),
		"from_newest":  r.cfg.fromNewest,
	}).Info("starting dlq replay")

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("dead-letter topic has no partitions")
		return total, nil
	}
	partitions = slices.Clone(partitions)
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.Scanned
		if budget <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":     r.cfg.mode(),
		"scanned":  total.Scanned,
		"replayed": total.Replayed,
		"skipped":  total.Skipped,
		"invalid":  total.Invalid,
	}).Info("dlq replay finished")

	return total, nil
}

// window возвращает диапазон [start, end) для чтения партиции.
// empty=true, если в партиции нечего читать.
func (r *replayer) window(partition int32, budget int) (start, end int64, empty bool, err error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return oldest, newest, true, nil
	}

	start = oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(budget), oldest)
	}
	return start, newest, false, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (summary, error) {
	var stats summary

	start, end, empty, err := r.window(partition, budget)
	if err != nil || empty {
		return stats, err
	}

	reader, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.Scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Debug("partition idle, moving on")
			return stats, nil
		case consumerErr := <-reader.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.Scanned++
			if err := r.replayOne(ctx, msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// replayOne разбирает один dead letter и при необходимости публикует его.
// Ошибкой прогона считается только отказ публикации.
func (r *replayer) replayOne(ctx context.Context, msg *sarama.ConsumerMessage, stats *summary) error {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	channel, notification, err := r.decode(msg.Value)
	switch {
	case errors.Is(err, errFiltered):
		stats.Skipped++
		return nil
	case err != nil:
		stats.Skipped++
		stats.Invalid++
		r.logger.WithError(err).WithFields(fields).Warn("skip malformed dead letter")
		return nil
	}

	headers := replayHeaders(channel, notification.EventType, r.cfg.sourceTopic)
	if !r.cfg.execute {
		fields["key"] = notification.Key()
		fields["event_type"] = notification.EventType
		fields["channel"] = channel
		r.logger.WithFields(fields).Info("dlq replay candidate")
		stats.Replayed++
		return nil
	}

	if err := r.sink.Publish(ctx, r.cfg.targetTopic, notification.Key(), notification, headers); err != nil {
		return fmt.Errorf("republish %s: %w", notification.ID, err)
	}
	stats.Replayed++
	return nil
}

// decode достаёт исходное уведомление из dead-letter конверта и сбрасывает счётчик попыток.
func (r *replayer) decode(raw []byte) (string, messaging.NotificationMessage, error) {
	var deadLetter messaging.DeadLetterMessage
	if err := json.Unmarshal(raw, &deadLetter); err != nil {
		return "", messaging.NotificationMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}

	notification := deadLetter.Notification
	if notification.ID == "" || notification.EventType == "" {
		return "", messaging.NotificationMessage{}, errors.New("dead letter carries no notification")
	}
	eventType := domain.EventType(notification.EventType)
	if !eventType.Valid() {
		return "", messaging.NotificationMessage{}, fmt.Errorf("unknown notification type %q", notification.EventType)
	}
	// Письма telegram/rabbitmq в топике уведомлений никто не доставит повторно.
	if deadLetter.Channel != kafka.ChannelName {
		return "", messaging.NotificationMessage{}, errFiltered
	}
	if r.cfg.eventTypes != nil && !r.cfg.eventTypes[eventType] {
		return "", messaging.NotificationMessage{}, errFiltered
	}

	notification.Attempt = 0
	notification.PublishedAt = r.now().UTC()
	return deadLetter.Channel, notification, nil
}

func replayHeaders(channel, eventType, sourceTopic string) map[string]string {
	return map[string]string{
		kafka.HeaderEventType:     eventType,
		kafka.HeaderRetryCount:    "0",
		kafka.HeaderChannel:       channel,
		kafka.HeaderOriginalTopic: sourceTopic,
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
