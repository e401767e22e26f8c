package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"onchainScreener/internal/model"
)

const defaultTelegramURL = "https://api.telegram.org"

// TelegramConfig configures the bot API gateway. Empty chat ids disable that alert kind.
type TelegramConfig struct {
	BaseURL      string
	Token        string
	AlertsChatID string
	ErrorsChatID string
	Timeout      time.Duration
}

// TelegramGateway posts alerts through the Telegram bot API.
type TelegramGateway struct {
	http   *resty.Client
	cfg    TelegramConfig
	logger *zap.Logger
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegramGateway(cfg TelegramConfig, logger *zap.Logger) (*TelegramGateway, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramGateway{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (g *TelegramGateway) SendAlert(ctx context.Context, sig model.Signal) error {
	if g.cfg.AlertsChatID == "" {
		return nil
	}
	return g.send(ctx, g.cfg.AlertsChatID, FormatSignal(sig))
}

func (g *TelegramGateway) SendErrorAlert(ctx context.Context, title, message string) error {
	if g.cfg.ErrorsChatID == "" {
		return nil
	}
	return g.send(ctx, g.cfg.ErrorsChatID, FormatError(title, message))
}

func (g *TelegramGateway) send(ctx context.Context, chatID, text string) error {
	var result, failure telegramResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":                  chatID,
			"text":                     text,
			"disable_web_page_preview": true,
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/bot" + g.cfg.Token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send failed with status %d: %s", resp.StatusCode(), failure.Description)
	}
	if !result.OK {
		return fmt.Errorf("telegram send rejected: %s", result.Description)
	}
	g.logger.Debug("telegram message sent", zap.String("chat_id", chatID))
	return nil
}
