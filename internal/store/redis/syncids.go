// Package redisstore keeps sync id hashes in Redis hashes for deployments
// that share them across several services.
package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/shrimpsizemoose/tasksync/internal/models"
)

const (
	forwardKeyTpl = "syncid:%s:%s"    // syncid:${org}:${pool} -> {userID: hash}
	ownerKeyTpl   = "syncid:owner:%s" // syncid:owner:${hash} -> {user_id, org, pool}
)

type SyncIDStore struct {
	redis *redis.Client
}

func NewSyncIDStore(redis *redis.Client) *SyncIDStore {
	return &SyncIDStore{redis: redis}
}

func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *SyncIDStore) FindSyncHash(ctx context.Context, userID int64, org, pool string) (string, error) {
	key := fmt.Sprintf(forwardKeyTpl, org, pool)
	hash, err := s.redis.HGet(ctx, key, strconv.FormatInt(userID, 10)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find sync hash: %w", err)
	}
	return hash, nil
}

// InsertSyncHash writes the reverse entry first so a forward entry never
// points at a hash without an owner.
func (s *SyncIDStore) InsertSyncHash(ctx context.Context, mapping *models.SyncIDMapping) error {
	ownerKey := fmt.Sprintf(ownerKeyTpl, mapping.Hash)
	err := s.redis.HSet(ctx, ownerKey, map[string]interface{}{
		"user_id": mapping.UserID,
		"org":     mapping.Org,
		"pool":    mapping.Pool,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store sync hash owner: %w", err)
	}

	key := fmt.Sprintf(forwardKeyTpl, mapping.Org, mapping.Pool)
	set, err := s.redis.HSetNX(ctx, key, strconv.FormatInt(mapping.UserID, 10), mapping.Hash).Result()
	if err != nil {
		return fmt.Errorf("failed to store sync hash: %w", err)
	}
	if !set {
		// somebody else got there first, drop our orphan
		if err := s.redis.Del(ctx, ownerKey).Err(); err != nil {
			return fmt.Errorf("failed to clean up sync hash owner: %w", err)
		}
	}
	return nil
}

func (s *SyncIDStore) FindSyncHashOwner(ctx context.Context, hash string) (*models.SyncIDMapping, error) {
	values, err := s.redis.HGetAll(ctx, fmt.Sprintf(ownerKeyTpl, hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find sync hash owner: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	userID, err := strconv.ParseInt(values["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt owner of sync hash %s: %w", hash, err)
	}
	return &models.SyncIDMapping{
		UserID: userID,
		Hash:   hash,
		Org:    values["org"],
		Pool:   values["pool"],
	}, nil
}
