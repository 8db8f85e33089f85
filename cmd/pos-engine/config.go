package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/app"
	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	envGRPCAddr             = "POS_GRPC_ADDR"
	envHTTPAddr             = "POS_HTTP_ADDR"
	envMetricsAddr          = "POS_METRICS_ADDR"
	envLogLevel             = "POS_LOG_LEVEL"
	envStorageDriver        = "POS_STORAGE_DRIVER"
	envStockDriver          = "POS_STOCK_DRIVER"
	envPostgresDSN          = "POS_POSTGRES_DSN"
	envPostgresAutoMigrate  = "POS_POSTGRES_AUTO_MIGRATE"
	envRedisAddr            = "POS_REDIS_ADDR"
	envRedisPassword        = "POS_REDIS_PASSWORD"
	envRedisDB              = "POS_REDIS_DB"
	envSeedFile             = "POS_SEED_FILE"
	envCurrency             = "POS_CURRENCY"
	envStoreName            = "POS_STORE_NAME"
	envLedgerMaxAttempts    = "POS_LEDGER_MAX_ATTEMPTS"
	envNotifyQueueSize      = "POS_NOTIFY_QUEUE_SIZE"
	envNotifyWorkers        = "POS_NOTIFY_WORKERS"
	envNotifyMaxAttempts    = "POS_NOTIFY_MAX_ATTEMPTS"
	envNotifyRetryDelay     = "POS_NOTIFY_RETRY_DELAY"
	envNotifyAttemptTimeout = "POS_NOTIFY_ATTEMPT_TIMEOUT"
	envNotifyLogEvents      = "POS_NOTIFY_LOG_EVENTS"
	envTelegramToken        = "POS_TELEGRAM_TOKEN"
	envTelegramChatID       = "POS_TELEGRAM_CHAT_ID"
	envTelegramAPIURL       = "POS_TELEGRAM_API_URL"
	envTelegramEvents       = "POS_TELEGRAM_EVENTS"
	envKafkaBrokers         = "POS_KAFKA_BROKERS"
	envKafkaEvents          = "POS_KAFKA_EVENTS"
	envRabbitMQURL          = "POS_RABBITMQ_URL"
	envRabbitMQEvents       = "POS_RABBITMQ_EVENTS"
)

type envLookup func(key string) (string, bool)

// readConfigFromEnv собирает конфигурацию из окружения. Некорректные значения
// заменяются значениями по умолчанию и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	positive := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			parsed, err := parseDuration(v, valid, rule)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = parsed
		}
	}
	events := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			if _, err := domain.ParseEventTypes(v); err != nil {
				warn(key, v, err)
				return
			}
			*dst = strings.TrimSpace(v)
		}
	}

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	lower(envStorageDriver, &cfg.StorageDriver)
	lower(envStockDriver, &cfg.StockDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	str(envRedisAddr, &cfg.RedisAddr)
	if v, ok := lookup(envRedisPassword); ok {
		cfg.RedisPassword = v
	}
	if v, ok := lookup(envRedisDB); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseInt(v, func(n int) bool { return n >= 0 }, "must be >= 0")
		if err != nil {
			warn(envRedisDB, v, err)
		} else {
			cfg.RedisDB = parsed
		}
	}

	str(envSeedFile, &cfg.SeedFile)
	if v, ok := lookup(envCurrency); ok && strings.TrimSpace(v) != "" {
		cfg.Currency = strings.ToUpper(strings.TrimSpace(v))
	}
	str(envStoreName, &cfg.StoreName)

	positive(envLedgerMaxAttempts, &cfg.LedgerMaxAttempts)
	positive(envNotifyQueueSize, &cfg.NotifyQueueSize)
	positive(envNotifyWorkers, &cfg.NotifyWorkers)
	positive(envNotifyMaxAttempts, &cfg.NotifyMaxAttempts)
	duration(envNotifyRetryDelay, &cfg.NotifyRetryDelay, func(d time.Duration) bool { return d >= 0 }, "must be >= 0")
	duration(envNotifyAttemptTimeout, &cfg.NotifyAttemptTimeout, func(d time.Duration) bool { return d > 0 }, "must be > 0")
	events(envNotifyLogEvents, &cfg.NotifyLogEvents)

	str(envTelegramToken, &cfg.TelegramToken)
	str(envTelegramChatID, &cfg.TelegramChatID)
	str(envTelegramAPIURL, &cfg.TelegramAPIURL)
	events(envTelegramEvents, &cfg.TelegramEvents)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	events(envKafkaEvents, &cfg.KafkaEvents)

	str(envRabbitMQURL, &cfg.RabbitMQURL)
	events(envRabbitMQEvents, &cfg.RabbitMQEvents)

	return cfg, warnings
}

// readLogLevel возвращает уровень логирования, по умолчанию info.
func readLogLevel(lookup envLookup) (log.Level, error) {
	v, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(v) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(v))
	if err != nil {
		return log.InfoLevel, err
	}
	return level, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
