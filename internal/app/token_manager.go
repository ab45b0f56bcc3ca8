package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	timeFormat      = "2006-01-02 15:04:05"
	operatorsKey    = "operators:telegram"
	tokenPrefix     = "sk-tsync-"
	tokenRandomSize = 12
)

type TokenInfo struct {
	Token           string
	RequestCount    int
	LastRequestTime time.Time
	CreatedTime     time.Time
}

// TokenManager issues operator API tokens and remembers which Telegram
// account belongs to which operator.
type TokenManager struct {
	redis       *redis.Client
	keyTemplate string
	now         func() time.Time
}

// NewTokenManager stores tokens under keyTemplate, the same template Auth
// validates against.
func NewTokenManager(redis *redis.Client, keyTemplate string) *TokenManager {
	if keyTemplate == "" {
		keyTemplate = DefaultTokenKeyTemplate
	}
	return &TokenManager{redis: redis, keyTemplate: keyTemplate, now: time.Now}
}

func (tm *TokenManager) tokenKey(operatorID int64) string {
	return strings.NewReplacer("{operator}", strconv.FormatInt(operatorID, 10)).Replace(tm.keyTemplate)
}

func generateToken() (string, error) {
	randomBytes := make([]byte, tokenRandomSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(randomBytes), nil
}

func (tm *TokenManager) FetchOrCreateOperatorToken(ctx context.Context, operatorID int64) (*TokenInfo, bool, error) {
	key := tm.tokenKey(operatorID)
	now := tm.now().UTC()

	token, err := generateToken()
	if err != nil {
		return nil, false, err
	}

	created, err := tm.redis.HSetNX(ctx, key, "token", token).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check token: %w", err)
	}

	pipe := tm.redis.Pipeline()
	if created {
		pipe.HSet(ctx, key, "created_dttm_utc", now.Format(timeFormat))
	}
	pipe.HIncrBy(ctx, key, "request_count", 1)
	pipe.HSet(ctx, key, "last_request_dttm_utc", now.Format(timeFormat))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to update token stats: %w", err)
	}

	values, err := tm.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get token info: %w", err)
	}

	lastReqTime, _ := time.Parse(timeFormat, values["last_request_dttm_utc"])
	createdTime, _ := time.Parse(timeFormat, values["created_dttm_utc"])
	reqCount, _ := strconv.Atoi(values["request_count"])

	return &TokenInfo{
		Token:           values["token"],
		RequestCount:    reqCount,
		LastRequestTime: lastReqTime,
		CreatedTime:     createdTime,
	}, created, nil
}

func (tm *TokenManager) SaveOperatorTelegramMapping(ctx context.Context, telegramID, operatorID int64) error {
	return tm.redis.HSet(ctx, operatorsKey, strconv.FormatInt(telegramID, 10), operatorID).Err()
}

// FetchOperatorByTelegram falls back to the Telegram id itself when no
// explicit mapping was saved.
func (tm *TokenManager) FetchOperatorByTelegram(ctx context.Context, telegramID int64) (int64, error) {
	value, err := tm.redis.HGet(ctx, operatorsKey, strconv.FormatInt(telegramID, 10)).Result()
	if err == redis.Nil {
		return telegramID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up operator of telegram user %d: %w", telegramID, err)
	}
	return strconv.ParseInt(value, 10, 64)
}

func (tm *TokenManager) Close() error {
	if tm.redis != nil {
		return tm.redis.Close()
	}
	return nil
}
