package clients

import (
	"gswapcopy/clients/blockfeed"
	"gswapcopy/clients/discord"
	"gswapcopy/clients/gswap"
	"gswapcopy/clients/notifier"
	"gswapcopy/clients/telegram"
	"gswapcopy/config"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
	Feed     *blockfeed.Client
	GSwap    *gswap.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	return &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: multiNotifier,
		Feed:     blockfeed.NewClient(logger, FeedConfig(cfg.Feed)),
		GSwap: gswap.NewClient(logger, gswap.Config{
			BaseURL:       cfg.GSwap.APIURL,
			APIKey:        cfg.GSwap.APIKey,
			WalletAddress: cfg.GSwap.WalletAddress,
			Timeout:       cfg.GSwap.Timeout,
		}),
	}
}

// FeedConfig maps the feed section of the application config onto the
// block feed client's settings.
func FeedConfig(c config.FeedConfig) blockfeed.Config {
	return blockfeed.Config{
		URL:                  c.URL,
		Topic:                c.Topic,
		ReconnectBaseDelay:   c.ReconnectBaseDelay,
		MaxReconnectDelay:    c.MaxReconnectDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		HeartbeatTimeout:     c.HeartbeatTimeout,
		PingInterval:         c.PingInterval,
		WriteTimeout:         c.WriteTimeout,
	}
}

// Close releases every client.
func (c *Clients) Close() error {
	var err error
	if c.Feed != nil {
		err = multierr.Append(err, c.Feed.Close())
	}
	if c.Notifier != nil {
		err = multierr.Append(err, c.Notifier.Close())
	}
	return err
}
