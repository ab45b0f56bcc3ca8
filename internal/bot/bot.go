package bot

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/app"
)

type Bot struct {
	config  *Config
	service *app.Service
	tokens  *app.TokenManager
	api     *tgbotapi.BotAPI
	admins  map[int64]bool
	loc     *time.Location
}

func New(config *Config, service *app.Service, tokens *app.TokenManager) (*Bot, error) {
	b, err := newBot(config, service, tokens)
	if err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(config.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	b.api = api
	return b, nil
}

func newBot(config *Config, service *app.Service, tokens *app.TokenManager) (*Bot, error) {
	loc, err := time.LoadLocation(config.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", config.Bot.Timezone, err)
	}

	admins := make(map[int64]bool)
	for _, id := range config.Bot.AdminIDs {
		admins[id] = true
	}

	return &Bot{
		config:  config,
		service: service,
		tokens:  tokens,
		admins:  admins,
		loc:     loc,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			go b.handleMessage(update.Message)

		case <-sigChan:
			logger.Info.Println("Shutting down bot...")
			b.api.StopReceivingUpdates()
			return nil
		}
	}
}
