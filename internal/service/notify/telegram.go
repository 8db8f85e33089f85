package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultTelegramAPIURL = "https://api.telegram.org"

// TelegramConfig задаёт параметры бота.
type TelegramConfig struct {
	Token  string
	ChatID string
	APIURL string
}

// TelegramChannel отправляет уведомления через Bot API sendMessage.
type TelegramChannel struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramChannel создаёт канал. client=nil означает клиент с таймаутом 10s.
func NewTelegramChannel(cfg TelegramConfig, client *http.Client) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTelegramAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramChannel{cfg: cfg, client: client}, nil
}

// Name возвращает имя канала.
func (c *TelegramChannel) Name() string {
	return "telegram"
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send отправляет текст события в чат.
func (c *TelegramChannel) Send(ctx context.Context, event domain.NotificationEvent) error {
	body, err := json.Marshal(map[string]any{
		"chat_id": c.cfg.ChatID,
		"text":    FormatText(event),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.APIURL, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed telegramResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode/100 != 2 || !parsed.OK {
		return fmt.Errorf("telegram api error: status=%d description=%q", resp.StatusCode, parsed.Description)
	}
	return nil
}

var _ domain.NotificationChannel = (*TelegramChannel)(nil)
