package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"

	redisstore "github.com/shrimpsizemoose/tasksync/internal/store/redis"
)

var ErrUnauthorized = errors.New("unauthorized")

// Auth checks operator bearer tokens kept in Redis hashes by TokenManager.
type Auth struct {
	enabled     bool
	redis       *redis.Client
	keyTemplate string
	tokenHeader string
}

func NewAuth(config *Config) (*Auth, error) {
	if !config.Server.EnableAuth {
		return &Auth{enabled: false, tokenHeader: config.Auth.TokenHeader}, nil
	}

	client, err := redisstore.Connect(context.Background(), config.Auth.RedisURL)
	if err != nil {
		return nil, err
	}
	return newAuthWithClient(client, config), nil
}

func newAuthWithClient(client *redis.Client, config *Config) *Auth {
	return &Auth{
		enabled:     true,
		redis:       client,
		keyTemplate: config.Auth.TokenKeyTemplate,
		tokenHeader: config.Auth.TokenHeader,
	}
}

func (a *Auth) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

func (a *Auth) ValidateToken(ctx context.Context, operator, token string) error {
	if !a.enabled {
		return nil
	}

	key := strings.NewReplacer("{operator}", operator).Replace(a.keyTemplate)

	stored, err := a.redis.HGet(ctx, key, "token").Result()
	if err == redis.Nil {
		logger.Debug.Printf("Token not found for key: %s", key)
		return fmt.Errorf("%w: token not found", ErrUnauthorized)
	}
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	if stored != token {
		logger.Debug.Printf("Token mismatch for operator %s and what's found in %s", operator, key)
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	return nil
}
