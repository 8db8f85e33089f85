// Package notify доставляет уведомления о продажах и остатках асинхронно,
// не блокируя проведение продажи.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const (
	defaultQueueSize        = 1024
	defaultWorkers          = 2
	defaultMaxAttempts      = 3
	defaultRetryBaseDelay   = 200 * time.Millisecond
	defaultAttemptTimeout   = 5 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerOpenFor   = 30 * time.Second
	defaultDeadLetterLogLen = 256
)

// Причины отбрасывания событий (label метрики).
const (
	dropNoChannel = "no_channel"
	dropEvicted   = "evicted"
	dropQueueFull = "queue_full"
	dropCoalesced = "coalesced"
)

// Binding связывает канал с набором включённых для него типов событий.
type Binding struct {
	Channel domain.NotificationChannel
	Events  []domain.EventType
}

// DeadLetter - запись о событии, которое не удалось доставить в канал.
type DeadLetter struct {
	EventID   string
	EventType domain.EventType
	Channel   string
	SaleID    string
	ItemID    string
	Attempts  int
	Error     string
	At        time.Time
}

// Options задаёт параметры Dispatcher.
type Options struct {
	Logger          *log.Entry
	Metrics         *metrics.NotifyMetrics
	DeadLetters     domain.DeadLetterPublisher
	QueueSize       int
	Workers         int
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	AttemptTimeout  time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// Option настраивает Dispatcher.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики очереди и доставки.
func WithMetrics(m *metrics.NotifyMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithDeadLetterPublisher задаёт publisher для недоставленных событий.
func WithDeadLetterPublisher(publisher domain.DeadLetterPublisher) Option {
	return func(opts *Options) {
		opts.DeadLetters = publisher
	}
}

// WithQueueSize задаёт ёмкость очереди.
func WithQueueSize(size int) Option {
	return func(opts *Options) {
		opts.QueueSize = size
	}
}

// WithWorkers задаёт число воркеров доставки.
func WithWorkers(workers int) Option {
	return func(opts *Options) {
		opts.Workers = workers
	}
}

// WithMaxAttempts задаёт число попыток доставки в один канал.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *Options) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *Options) {
		opts.RetryBaseDelay = delay
	}
}

// WithAttemptTimeout ограничивает одну попытку доставки.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.AttemptTimeout = timeout
	}
}

// WithCircuitBreaker задаёт порог подряд идущих ошибок и время открытого состояния.
func WithCircuitBreaker(failures uint32, openFor time.Duration) Option {
	return func(opts *Options) {
		opts.BreakerFailures = failures
		opts.BreakerOpenFor = openFor
	}
}

type channelBinding struct {
	channel domain.NotificationChannel
	events  map[domain.EventType]bool
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// Dispatcher - ограниченная очередь уведомлений с пулом воркеров.
type Dispatcher struct {
	logger         *log.Entry
	metrics        *metrics.NotifyMetrics
	deadLetterPub  domain.DeadLetterPublisher
	bindings       []*channelBinding
	capacity       int
	workers        int
	maxAttempts    int
	retryBaseDelay time.Duration
	attemptTimeout time.Duration

	mu     sync.Mutex
	queue  []domain.NotificationEvent
	signal chan struct{}

	dlMu        sync.Mutex
	deadLetters []DeadLetter
}

// NewDispatcher создаёт диспетчер. Каналы без включённых событий игнорируются.
func NewDispatcher(bindings []Binding, options ...Option) *Dispatcher {
	opts := Options{
		QueueSize:       defaultQueueSize,
		Workers:         defaultWorkers,
		MaxAttempts:     defaultMaxAttempts,
		RetryBaseDelay:  defaultRetryBaseDelay,
		AttemptTimeout:  defaultAttemptTimeout,
		BreakerFailures: defaultBreakerFailures,
		BreakerOpenFor:  defaultBreakerOpenFor,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "notify-dispatcher")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = defaultBreakerOpenFor
	}

	d := &Dispatcher{
		logger:         logger,
		metrics:        opts.Metrics,
		deadLetterPub:  opts.DeadLetters,
		capacity:       opts.QueueSize,
		workers:        opts.Workers,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		attemptTimeout: opts.AttemptTimeout,
		queue:          make([]domain.NotificationEvent, 0, opts.QueueSize),
		signal:         make(chan struct{}, 1),
	}

	for _, b := range bindings {
		if b.Channel == nil || len(b.Events) == 0 {
			continue
		}
		events := make(map[domain.EventType]bool, len(b.Events))
		for _, eventType := range b.Events {
			events[eventType] = true
		}
		d.bindings = append(d.bindings, &channelBinding{
			channel: b.Channel,
			events:  events,
			breaker: newBreaker(b.Channel.Name(), opts.BreakerFailures, opts.BreakerOpenFor, logger),
		})
	}

	return d
}

func newBreaker(name string, failures uint32, openFor time.Duration, logger *log.Entry) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"channel": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("notification channel circuit state changed")
		},
	})
}

// Dispatch ставит событие в очередь и сразу возвращается.
// false означает, что событие не будет доставлено ни в один канал.
func (d *Dispatcher) Dispatch(event domain.NotificationEvent) bool {
	if d == nil || !event.Type.Valid() {
		return false
	}
	if !d.hasChannelFor(event.Type) {
		d.metrics.RecordDropped(dropNoChannel)
		return false
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.Priority = domain.PriorityOf(event.Type)
	event.Attempt = 0

	accepted := d.enqueue(event)
	if accepted {
		d.metrics.RecordEnqueued(string(event.Type))
		d.wake()
	}
	return accepted
}

func (d *Dispatcher) enqueue(event domain.NotificationEvent) bool {
	d.mu.Lock()
	defer func() {
		d.metrics.SetQueueDepth(len(d.queue))
		d.mu.Unlock()
	}()

	// Свежий low-stock по товару заменяет ещё не отправленный.
	if key := event.DedupKey(); key != "" {
		for i := range d.queue {
			if d.queue[i].DedupKey() == key {
				d.queue[i] = event
				d.metrics.RecordDropped(dropCoalesced)
				return true
			}
		}
	}

	if len(d.queue) >= d.capacity {
		idx := d.oldestLowPriority()
		if idx < 0 {
			d.metrics.RecordDropped(dropQueueFull)
			d.logger.WithFields(log.Fields{
				"event_type": event.Type,
				"sale_id":    event.SaleID,
				"item_id":    event.ItemID,
			}).Warn("notification queue is full, event rejected")
			return false
		}
		evicted := d.queue[idx]
		d.queue = append(d.queue[:idx], d.queue[idx+1:]...)
		d.metrics.RecordDropped(dropEvicted)
		d.logger.WithFields(log.Fields{
			"event_type": evicted.Type,
			"item_id":    evicted.ItemID,
		}).Warn("notification queue is full, oldest low-priority event evicted")
	}

	d.queue = append(d.queue, event)
	return true
}

func (d *Dispatcher) oldestLowPriority() int {
	for i, queued := range d.queue {
		if queued.Priority == domain.PriorityLow {
			return i
		}
	}
	return -1
}

func (d *Dispatcher) hasChannelFor(eventType domain.EventType) bool {
	for _, b := range d.bindings {
		if b.events[eventType] {
			return true
		}
	}
	return false
}

func (d *Dispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) dequeue() (domain.NotificationEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return domain.NotificationEvent{}, false
	}
	event := d.queue[0]
	d.queue = d.queue[1:]
	d.metrics.SetQueueDepth(len(d.queue))
	if len(d.queue) > 0 {
		d.wake()
	}
	return event, true
}

// QueueDepth возвращает число ожидающих событий.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Capacity возвращает ёмкость очереди.
func (d *Dispatcher) Capacity() int {
	return d.capacity
}

// Channels возвращает имена подключённых каналов.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.bindings))
	for _, b := range d.bindings {
		names = append(names, b.channel.Name())
	}
	return names
}

// Run запускает воркеры и блокируется до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.bindings) == 0 {
		d.logger.Info("notification dispatcher has no enabled channels")
	}

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.ProcessOnce(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.signal:
		}
	}
}

// ProcessOnce доставляет одно событие из очереди. Возвращает false, если очередь пуста.
func (d *Dispatcher) ProcessOnce(ctx context.Context) bool {
	event, ok := d.dequeue()
	if !ok {
		return false
	}
	d.deliver(ctx, event)
	return true
}

// Drain доставляет оставшиеся события, пока очередь не опустеет или не истечёт ctx.
func (d *Dispatcher) Drain(ctx context.Context) {
	for ctx.Err() == nil && d.ProcessOnce(ctx) {
	}
}

// deliver рассылает событие во все включённые каналы параллельно.
// Ошибка одного канала не влияет на остальные.
func (d *Dispatcher) deliver(ctx context.Context, event domain.NotificationEvent) {
	var wg sync.WaitGroup
	for _, b := range d.bindings {
		if !b.events[event.Type] {
			continue
		}
		wg.Add(1)
		go func(b *channelBinding) {
			defer wg.Done()
			if err := d.sendWithRetry(ctx, b, event); err != nil {
				d.deadLetter(ctx, b.channel.Name(), event, err)
			}
		}(b)
	}
	wg.Wait()
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, b *channelBinding, event domain.NotificationEvent) error {
	name := b.channel.Name()
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		event.Attempt = attempt
		_, err := b.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, d.sendOnce(ctx, b.channel, event)
		})
		if err == nil {
			d.metrics.RecordDelivery(name, "sent")
			return nil
		}
		lastErr = err
		d.metrics.RecordDelivery(name, "retry_error")
		d.logger.WithError(err).WithFields(log.Fields{
			"channel":    name,
			"event_id":   event.ID,
			"event_type": event.Type,
			"attempt":    attempt,
		}).Debug("notification delivery attempt failed")

		if attempt >= d.maxAttempts {
			break
		}
		if ctx.Err() != nil {
			d.metrics.RecordDelivery(name, "failed")
			return &domain.NotificationError{Channel: name, Event: event.Type, Attempts: attempt, Err: ctx.Err()}
		}

		delay := d.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			d.metrics.RecordDelivery(name, "failed")
			return &domain.NotificationError{Channel: name, Event: event.Type, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	d.metrics.RecordDelivery(name, "failed")
	return &domain.NotificationError{Channel: name, Event: event.Type, Attempts: d.maxAttempts, Err: lastErr}
}

// sendOnce ограничивает попытку таймаутом и превращает panic канала в ошибку.
func (d *Dispatcher) sendOnce(ctx context.Context, channel domain.NotificationChannel, event domain.NotificationEvent) (err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", channel.Name(), r)
		}
	}()

	return channel.Send(attemptCtx, event)
}

func (d *Dispatcher) retryBackoff(attempt int) time.Duration {
	if d.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return d.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := d.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

func (d *Dispatcher) deadLetter(ctx context.Context, channel string, event domain.NotificationEvent, cause error) {
	attempts := d.maxAttempts
	var notifyErr *domain.NotificationError
	if errors.As(cause, &notifyErr) {
		attempts = notifyErr.Attempts
	}
	event.Attempt = attempts

	entry := DeadLetter{
		EventID:   event.ID,
		EventType: event.Type,
		Channel:   channel,
		SaleID:    event.SaleID,
		ItemID:    event.ItemID,
		Attempts:  attempts,
		Error:     cause.Error(),
		At:        time.Now().UTC(),
	}

	d.dlMu.Lock()
	d.deadLetters = append(d.deadLetters, entry)
	if len(d.deadLetters) > defaultDeadLetterLogLen {
		d.deadLetters = d.deadLetters[len(d.deadLetters)-defaultDeadLetterLogLen:]
	}
	d.dlMu.Unlock()

	d.metrics.RecordDeadLetter(channel)
	d.logger.WithError(cause).WithFields(log.Fields{
		"channel":    channel,
		"event_id":   event.ID,
		"event_type": event.Type,
		"sale_id":    event.SaleID,
		"item_id":    event.ItemID,
		"attempts":   attempts,
	}).Error("notification dead-lettered after retries")

	if d.deadLetterPub == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.attemptTimeout)
	defer cancel()
	if err := d.deadLetterPub.PublishDeadLetter(pubCtx, channel, event, cause); err != nil {
		d.logger.WithError(err).WithField("event_id", event.ID).Warn("failed to publish dead letter")
	}
}

// DeadLetters возвращает копию журнала недоставленных событий.
func (d *Dispatcher) DeadLetters() []DeadLetter {
	d.dlMu.Lock()
	defer d.dlMu.Unlock()
	result := make([]DeadLetter, len(d.deadLetters))
	copy(result, d.deadLetters)
	return result
}

var _ domain.Notifier = (*Dispatcher)(nil)
