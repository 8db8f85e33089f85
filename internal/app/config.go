package app

import "time"

// Драйверы хранилища продаж.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы хранилища остатков. Пустое значение означает "как у хранилища продаж".
const (
	StockDriverMemory   = "memory"
	StockDriverRedis    = "redis"
	StockDriverPostgres = "postgres"
)

// Config описывает настройки запуска движка.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	StockDriver         string
	PostgresDSN         string
	PostgresAutoMigrate bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	SeedFile  string
	Currency  string
	StoreName string

	LedgerMaxAttempts int

	NotifyQueueSize      int
	NotifyWorkers        int
	NotifyMaxAttempts    int
	NotifyRetryDelay     time.Duration
	NotifyAttemptTimeout time.Duration
	NotifyLogEvents      string

	TelegramToken  string
	TelegramChatID string
	TelegramAPIURL string
	TelegramEvents string

	KafkaBrokers string
	KafkaEvents  string

	RabbitMQURL    string
	RabbitMQEvents string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:             ":50051",
		HTTPAddr:             ":8080",
		MetricsAddr:          ":9090",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		RedisAddr:            "localhost:6379",
		Currency:             "USD",
		StoreName:            "POS",
		LedgerMaxAttempts:    5,
		NotifyQueueSize:      1024,
		NotifyWorkers:        2,
		NotifyMaxAttempts:    3,
		NotifyRetryDelay:     200 * time.Millisecond,
		NotifyAttemptTimeout: 5 * time.Second,
		NotifyLogEvents:      "all",
		TelegramEvents:       "low_stock,out_of_stock",
		KafkaEvents:          "all",
		RabbitMQEvents:       "all",
	}
}

// stockDriver возвращает фактический драйвер остатков.
func (c Config) stockDriver() string {
	if c.StockDriver != "" {
		return c.StockDriver
	}
	if c.StorageDriver == "" {
		return StockDriverMemory
	}
	return c.StorageDriver
}
