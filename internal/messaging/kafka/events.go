package kafka

// Topics для Kafka
const (
	TopicNotifications   = "pos.notifications"
	TopicDeadLetterQueue = "pos.notifications.dlq" // Dead Letter Queue для недоставленных уведомлений
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderChannel       = "x-channel"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)
