package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

var replayNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func notificationEvent(id string, eventType domain.EventType) domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:         id,
		Type:       eventType,
		SaleID:     "sale-" + id,
		ItemID:     "sku-" + id,
		Attempt:    3,
		OccurredAt: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
		Payload:    map[string]any{"on_hand": 1},
	}
}

func deadLetter(t *testing.T, channel string, event domain.NotificationEvent) []byte {
	t.Helper()
	raw, err := json.Marshal(messaging.NewDeadLetterMessage(channel, event, errors.New("context deadline exceeded")))
	require.NoError(t, err)
	return raw
}

func consumerMessages(partition int32, values ...[]byte) []*sarama.ConsumerMessage {
	msgs := make([]*sarama.ConsumerMessage, 0, len(values))
	for i, value := range values {
		msgs = append(msgs, &sarama.ConsumerMessage{Partition: partition, Offset: int64(i), Value: value})
	}
	return msgs
}

func testReplayer(cfg config, offsets *fakeOffsets, source *fakeSource, sink *recordingSink) *replayer {
	var pub publisher
	if sink != nil {
		pub = sink
	}
	r := newReplayer(cfg, offsets, source, pub)
	r.now = func() time.Time { return replayNow }
	return r
}

func baseConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicNotifications,
		limit:       100,
		idleTimeout: time.Second,
	}
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, parseBrokers(" kafka-1:9092, ,kafka-2:9092,"))
	assert.Empty(t, parseBrokers(" , "))
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=kafka-1:9092,kafka-2:9092",
		"-channel= kafka ",
		"-events=low_stock,out_of_stock",
		"-limit=25",
		"-idle-timeout=750ms",
		"-from-newest",
		"-execute",
	}, func() {
		cfg, err := readConfig()
		require.NoError(t, err)

		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
		assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
		assert.Equal(t, kafka.TopicNotifications, cfg.targetTopic)
		assert.Equal(t, "kafka", cfg.channel)
		assert.Equal(t, map[domain.EventType]bool{domain.EventLowStock: true, domain.EventOutOfStock: true}, cfg.eventTypes)
		assert.Equal(t, 25, cfg.limit)
		assert.Equal(t, 750*time.Millisecond, cfg.idleTimeout)
		assert.True(t, cfg.fromNewest)
		assert.True(t, cfg.execute)
		assert.Equal(t, "execute", cfg.mode())
	})
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	t.Setenv(envKafkaBrokers, "env-kafka:9092")
	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		assert.Equal(t, []string{"env-kafka:9092"}, cfg.brokers)
		assert.Len(t, cfg.eventTypes, len(domain.AllEventTypes))
		assert.Equal(t, "dry-run", cfg.mode())
	})
}

func TestReadConfig_Validation(t *testing.T) {
	t.Setenv(envKafkaBrokers, "")

	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: []string{"-brokers= "}, wantErr: "kafka brokers are required"},
		{name: "empty source", args: []string{"-brokers=k:9092", "-source-topic= "}, wantErr: "source-topic is required"},
		{name: "empty target", args: []string{"-brokers=k:9092", "-target-topic="}, wantErr: "target-topic is required"},
		{name: "loop", args: []string{"-brokers=k:9092", "-target-topic=" + kafka.TopicDeadLetterQueue}, wantErr: "must differ"},
		{name: "non-kafka channel", args: []string{"-brokers=k:9092", "-channel=telegram"}, wantErr: `channel "telegram" cannot be replayed`},
		{name: "zero limit", args: []string{"-brokers=k:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "zero idle", args: []string{"-brokers=k:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
		{name: "unknown event", args: []string{"-brokers=k:9092", "-events=refund_issued"}, wantErr: "refund_issued"},
		{name: "no events", args: []string{"-brokers=k:9092", "-events=none"}, wantErr: "at least one"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := readConfig()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			})
		})
	}
}

func TestReplayer_Decode(t *testing.T) {
	r := testReplayer(baseConfig(), nil, nil, nil)

	channel, notification, err := r.decode(deadLetter(t, "kafka", notificationEvent("1", domain.EventLowStock)))
	require.NoError(t, err)

	assert.Equal(t, "kafka", channel)
	assert.Equal(t, "1", notification.ID)
	assert.Equal(t, "sku-1", notification.Key())
	assert.Zero(t, notification.Attempt)
	assert.Equal(t, replayNow, notification.PublishedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), notification.OccurredAt)
}

func TestReplayer_DecodeFilters(t *testing.T) {
	raw := deadLetter(t, "kafka", notificationEvent("1", domain.EventLowStock))

	for _, channel := range []string{"rabbitmq", "telegram", "log"} {
		_, _, err := testReplayer(baseConfig(), nil, nil, nil).decode(deadLetter(t, channel, notificationEvent("1", domain.EventLowStock)))
		assert.ErrorIs(t, err, errFiltered, channel)
	}

	byEvent := baseConfig()
	byEvent.eventTypes = map[domain.EventType]bool{domain.EventSaleCompleted: true}
	_, _, err := testReplayer(byEvent, nil, nil, nil).decode(raw)
	assert.ErrorIs(t, err, errFiltered)
}

func TestReplayer_DecodeMalformed(t *testing.T) {
	r := testReplayer(baseConfig(), nil, nil, nil)

	for _, raw := range []string{
		`{broken`,
		`{"channel":"kafka","error":"timeout"}`,
		`{"channel":"kafka","notification":{"id":"n-1","event_type":"refund_issued"}}`,
	} {
		_, _, err := r.decode([]byte(raw))
		require.Error(t, err, raw)
		assert.NotErrorIs(t, err, errFiltered, raw)
	}
}

func TestReplayer_DryRunCountsWithoutPublishing(t *testing.T) {
	cfg := baseConfig()
	cfg.channel = "kafka"

	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 3}}}
	source := newFakeSource(map[int32][]*sarama.ConsumerMessage{
		0: consumerMessages(0,
			deadLetter(t, "kafka", notificationEvent("1", domain.EventSaleCompleted)),
			deadLetter(t, "rabbitmq", notificationEvent("2", domain.EventLowStock)),
			[]byte("not json"),
		),
	})

	got, err := testReplayer(cfg, offsets, source, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, summary{Scanned: 3, Replayed: 1, Skipped: 2, Invalid: 1}, got)
}

func TestReplayer_ExecuteRepublishes(t *testing.T) {
	cfg := baseConfig()
	cfg.execute = true

	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 2}}}
	source := newFakeSource(map[int32][]*sarama.ConsumerMessage{
		0: consumerMessages(0,
			deadLetter(t, "kafka", notificationEvent("1", domain.EventOutOfStock)),
			deadLetter(t, "rabbitmq", notificationEvent("2", domain.EventLowStock)),
		),
	})
	sink := &recordingSink{}

	got, err := testReplayer(cfg, offsets, source, sink).Run(context.Background())
	require.NoError(t, err)
	// Письмо rabbitmq не уходит в топик уведомлений: его канал этот топик не читает.
	assert.Equal(t, summary{Scanned: 2, Replayed: 1, Skipped: 1}, got)

	require.Len(t, sink.published, 1)
	first := sink.published[0]
	assert.Equal(t, kafka.TopicNotifications, first.topic)
	assert.Equal(t, "sku-1", first.key)
	assert.Equal(t, map[string]string{
		kafka.HeaderEventType:     string(domain.EventOutOfStock),
		kafka.HeaderRetryCount:    "0",
		kafka.HeaderChannel:       "kafka",
		kafka.HeaderOriginalTopic: kafka.TopicDeadLetterQueue,
	}, first.headers)

	notification, ok := first.payload.(messaging.NotificationMessage)
	require.True(t, ok, "payload must be a notification envelope, got %T", first.payload)
	assert.Zero(t, notification.Attempt)
}

func TestReplayer_LimitSpansPartitionsInOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.limit = 3

	event := func(id string) []byte { return deadLetter(t, "kafka", notificationEvent(id, domain.EventLowStock)) }
	offsets := &fakeOffsets{
		partitions: []int32{2, 0},
		ranges:     map[int32][2]int64{0: {0, 2}, 2: {0, 2}},
	}
	source := newFakeSource(map[int32][]*sarama.ConsumerMessage{
		0: consumerMessages(0, event("a"), event("b")),
		2: consumerMessages(2, event("c"), event("d")),
	})

	got, err := testReplayer(cfg, offsets, source, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, got.Scanned)
	assert.Equal(t, []int32{0, 2}, source.consumed())
}

func TestReplayer_FromNewestStartsAtTail(t *testing.T) {
	cfg := baseConfig()
	cfg.fromNewest = true
	cfg.limit = 2

	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {4, 10}}}
	r := testReplayer(cfg, offsets, nil, nil)

	start, end, empty, err := r.window(0, cfg.limit)
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, int64(8), start)
	assert.Equal(t, int64(10), end)

	start, _, _, err = r.window(0, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(4), start, "start must not precede the oldest offset")
}

func TestReplayer_EmptyPartitionSkipped(t *testing.T) {
	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {7, 7}}}
	source := newFakeSource(nil)

	got, err := testReplayer(baseConfig(), offsets, source, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary{}, got)
	assert.Empty(t, source.consumed())
}

func TestReplayer_StopsWhenPartitionIdle(t *testing.T) {
	cfg := baseConfig()
	cfg.idleTimeout = 20 * time.Millisecond

	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 5}}}
	source := &fakeSource{readers: map[int32]*fakeReader{0: {
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}}}

	got, err := testReplayer(cfg, offsets, source, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got.Scanned)
}

func TestReplayer_ContextCanceled(t *testing.T) {
	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 5}}}
	source := &fakeSource{readers: map[int32]*fakeReader{0: {
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testReplayer(baseConfig(), offsets, source, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_Errors(t *testing.T) {
	boom := errors.New("broker unavailable")
	valid := func() []*sarama.ConsumerMessage {
		return consumerMessages(0, deadLetter(t, "kafka", notificationEvent("1", domain.EventLowStock)))
	}

	cases := []struct {
		name    string
		cfg     func(*config)
		offsets *fakeOffsets
		source  func() *fakeSource
		sink    *recordingSink
		wantErr string
	}{
		{
			name:    "partitions",
			offsets: &fakeOffsets{partitionsErr: boom},
			source:  func() *fakeSource { return newFakeSource(nil) },
			wantErr: "list partitions",
		},
		{
			name:    "offsets",
			offsets: &fakeOffsets{partitions: []int32{0}, offsetErr: boom},
			source:  func() *fakeSource { return newFakeSource(nil) },
			wantErr: "oldest offset of partition 0",
		},
		{
			name:    "consume",
			offsets: &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 1}}},
			source:  func() *fakeSource { return &fakeSource{consumeErr: boom} },
			wantErr: "consume partition 0",
		},
		{
			name:    "consumer error",
			offsets: &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 1}}},
			source: func() *fakeSource {
				errs := make(chan *sarama.ConsumerError, 1)
				errs <- &sarama.ConsumerError{Topic: kafka.TopicDeadLetterQueue, Err: boom}
				return &fakeSource{readers: map[int32]*fakeReader{0: {messages: make(chan *sarama.ConsumerMessage), errors: errs}}}
			},
			wantErr: "partition 0 consumer error",
		},
		{
			name:    "publish",
			cfg:     func(c *config) { c.execute = true },
			offsets: &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 1}}},
			source:  func() *fakeSource { return newFakeSource(map[int32][]*sarama.ConsumerMessage{0: valid()}) },
			sink:    &recordingSink{err: boom},
			wantErr: "republish 1",
		},
		{
			name:    "execute without producer",
			cfg:     func(c *config) { c.execute = true },
			offsets: &fakeOffsets{},
			source:  func() *fakeSource { return newFakeSource(nil) },
			wantErr: "producer is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			_, err := testReplayer(cfg, tc.offsets, tc.source(), tc.sink).Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	_, err := newReplayer(baseConfig(), nil, nil, nil).Run(context.Background())
	assert.ErrorContains(t, err, "kafka client and consumer are required")
}

func TestReplayer_CloseReleasesEverything(t *testing.T) {
	offsets := &fakeOffsets{}
	source := newFakeSource(nil)
	sink := &recordingSink{closeErr: errors.New("flush failed")}

	err := testReplayer(baseConfig(), offsets, source, sink).Close()

	assert.ErrorContains(t, err, "flush failed")
	assert.True(t, offsets.closed)
	assert.True(t, source.closed)
	assert.True(t, sink.closed)
}

func TestMain_DryRunWithStubbedKafka(t *testing.T) {
	oldOpen := openReplayer
	t.Cleanup(func() { openReplayer = oldOpen })

	offsets := &fakeOffsets{partitions: []int32{0}, ranges: map[int32][2]int64{0: {0, 1}}}
	source := newFakeSource(map[int32][]*sarama.ConsumerMessage{
		0: consumerMessages(0, deadLetter(t, "kafka", notificationEvent("1", domain.EventSaleCompleted))),
	})
	var opened config
	openReplayer = func(cfg config) (*replayer, error) {
		opened = cfg
		return testReplayer(cfg, offsets, source, nil), nil
	}

	withFlagArgs(t, []string{"-brokers=k:9092", "-limit=1", "-idle-timeout=50ms"}, main)

	assert.Equal(t, []string{"k:9092"}, opened.brokers)
	assert.False(t, opened.execute)
	assert.True(t, offsets.closed, "main must close kafka client")
}

func TestRun_PropagatesOpenError(t *testing.T) {
	oldOpen := openReplayer
	t.Cleanup(func() { openReplayer = oldOpen })
	openReplayer = func(config) (*replayer, error) { return nil, errors.New("dial kafka") }

	_, err := run(context.Background(), baseConfig())
	assert.ErrorContains(t, err, "dial kafka")
}

func TestFailExitsNonZero(t *testing.T) {
	if os.Getenv("DLQ_REPROCESS_FAIL") == "1" {
		fail("replay %s", "failed")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestFailExitsNonZero$")
	cmd.Env = append(os.Environ(), "DLQ_REPROCESS_FAIL=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs, oldCommandLine := os.Args, flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	})

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fn()
}

type fakeOffsets struct {
	partitions    []int32
	partitionsErr error
	ranges        map[int32][2]int64
	offsetErr     error
	closed        bool
}

func (f *fakeOffsets) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if f.offsetErr != nil {
		return 0, f.offsetErr
	}
	bounds := f.ranges[partition]
	if marker == sarama.OffsetOldest {
		return bounds[0], nil
	}
	return bounds[1], nil
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) {
	return f.partitions, f.partitionsErr
}

func (f *fakeOffsets) Close() error {
	f.closed = true
	return nil
}

type fakeReader struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (r *fakeReader) Messages() <-chan *sarama.ConsumerMessage { return r.messages }
func (r *fakeReader) Errors() <-chan *sarama.ConsumerError     { return r.errors }
func (r *fakeReader) Close() error                             { return nil }

type fakeSource struct {
	mu         sync.Mutex
	readers    map[int32]*fakeReader
	consumeErr error
	order      []int32
	closed     bool
}

// newFakeSource отдаёт сообщения через буферизованный и уже закрытый канал.
func newFakeSource(msgs map[int32][]*sarama.ConsumerMessage) *fakeSource {
	readers := make(map[int32]*fakeReader, len(msgs))
	for partition, batch := range msgs {
		ch := make(chan *sarama.ConsumerMessage, len(batch))
		for _, msg := range batch {
			ch <- msg
		}
		close(ch)
		readers[partition] = &fakeReader{messages: ch, errors: make(chan *sarama.ConsumerError)}
	}
	return &fakeSource{readers: readers}
}

func (s *fakeSource) ConsumePartition(_ string, partition int32, _ int64) (partitionReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	reader, ok := s.readers[partition]
	if !ok {
		return nil, errors.New("unexpected partition")
	}
	s.order = append(s.order, partition)
	return reader, nil
}

func (s *fakeSource) consumed() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.order...)
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type publishedMessage struct {
	topic   string
	key     string
	payload any
	headers map[string]string
}

type recordingSink struct {
	published []publishedMessage
	err       error
	closeErr  error
	closed    bool
}

func (s *recordingSink) Publish(_ context.Context, topic, key string, payload any, headers map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, publishedMessage{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.closeErr
}
