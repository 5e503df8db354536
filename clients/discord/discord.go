package discord

import (
	"fmt"
	"strings"
	"time"

	"gswapcopy/clients/notifier"
	"gswapcopy/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Embed colors by alert level.
const (
	colorInfo     = 0x3498DB
	colorWarning  = 0xF39C12
	colorCritical = 0xE74C3C
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// Enabled reports whether alerts will be delivered.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendAlert sends a rich embedded alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendAlert(alert notifier.Alert) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping alert")
		return
	}

	embed := buildEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord alert",
		zap.String("source", string(alert.Source)),
		zap.String("kind", alert.Kind),
	)
}

func buildEmbed(alert notifier.Alert) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(alert.Fields)+2)
	fields = append(fields, &discordgo.MessageEmbedField{
		Name:   "Source",
		Value:  string(alert.Source),
		Inline: true,
	})
	if alert.Wallet != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Wallet",
			Value:  shortAddress(alert.Wallet),
			Inline: true,
		})
	}
	for _, f := range alert.Fields {
		if f.Value == "" {
			continue
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title:       buildTitle(alert),
		Description: alert.Message,
		Color:       levelColor(alert.Level),
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("gswapcopy * %s", ts.UTC().Format("1/2/2006, 3:04:05PM (MST)")),
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func buildTitle(alert notifier.Alert) string {
	title := alert.Title
	if title == "" {
		title = strings.ReplaceAll(alert.Kind, "_", " ")
	}
	if title == "" {
		title = "Alert"
	}
	return levelEmoji(alert.Level) + " " + title
}

func levelColor(l notifier.Level) int {
	switch l {
	case notifier.LevelCritical:
		return colorCritical
	case notifier.LevelWarning:
		return colorWarning
	default:
		return colorInfo
	}
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

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
