package main

import (
	"context"
	"flag"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/app"
	"github.com/shrimpsizemoose/tasksync/internal/bot"
	redisstore "github.com/shrimpsizemoose/tasksync/internal/store/redis"
)

func main() {
	var configPath = flag.String("config", "bot.toml", "Path to bot config file")
	flag.Parse()

	cfg, err := bot.ReadConfig(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to read bot config: %v", err)
	}

	service, err := app.NewService(cfg.Bot.ServiceConfig)
	if err != nil {
		logger.Error.Fatalf("Failed to init service: %v", err)
	}
	defer service.Close()

	var tokens *app.TokenManager
	if cfg.Auth.RedisURL != "" {
		client, err := redisstore.Connect(context.Background(), cfg.Auth.RedisURL)
		if err != nil {
			logger.Error.Fatalf("Failed to connect to token storage: %v", err)
		}
		tokens = app.NewTokenManager(client, service.Config.Auth.TokenKeyTemplate)
		defer tokens.Close()
	}

	b, err := bot.New(cfg, service, tokens)
	if err != nil {
		logger.Error.Fatalf("Failed to create bot: %v", err)
	}

	logger.Info.Println("Bot initialized successfully")
	if err := b.Start(); err != nil {
		logger.Error.Fatalf("Bot error: %v", err)
	}
}
