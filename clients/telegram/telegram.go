package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gswapcopy/clients/notifier"
	"gswapcopy/config"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	apiBase  string
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger:  logger,
			apiBase: defaultAPIBase,
			chatID:  chatID,
			isProd:  cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		apiBase:  defaultAPIBase,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether alerts will be delivered.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendAlert sends an alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendAlert(alert notifier.Alert) {
	if !tc.Enabled() {
		tc.logger.Debug("telegram not configured, skipping alert")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tc.sendMessage(ctx, buildMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram alert",
		zap.String("source", string(alert.Source)),
		zap.String("kind", alert.Kind),
	)
}

func buildMessage(alert notifier.Alert) string {
	var sb strings.Builder

	title := alert.Title
	if title == "" {
		title = strings.ReplaceAll(alert.Kind, "_", " ")
	}
	if title == "" {
		title = "Alert"
	}
	sb.WriteString(fmt.Sprintf("%s *%s*\n\n", levelEmoji(alert.Level), escapeMarkdown(title)))

	if alert.Message != "" {
		sb.WriteString(escapeMarkdown(alert.Message))
		sb.WriteString("\n\n")
	}

	sb.WriteString(fmt.Sprintf("*Source:* %s\n", escapeMarkdown(string(alert.Source))))
	if alert.Wallet != "" {
		sb.WriteString(fmt.Sprintf("*Wallet:* %s\n", escapeMarkdown(shortAddress(alert.Wallet))))
	}
	for _, f := range alert.Fields {
		if f.Value == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("*%s:* %s\n", escapeMarkdown(f.Name), escapeMarkdown(f.Value)))
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_gswapcopy • %s_", ts.UTC().Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func levelEmoji(l notifier.Level) string {
	switch l {
	case notifier.LevelCritical:
		return "🚨"
	case notifier.LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (tc *TelegramClient) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
