package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forwardbot/internal/models"

	"github.com/redis/go-redis/v9"
)

const cursorKeyPrefix = "forwardbot:cursor:"

// ConnectRedis initializes a Redis client from URL or host:port input
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisCursorStore keeps one hash per account cursor
type RedisCursorStore struct {
	client *redis.Client
}

func NewRedisCursorStore(client *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{client: client}
}

func cursorKey(accountID int64) string {
	return cursorKeyPrefix + strconv.FormatInt(accountID, 10)
}

func (s *RedisCursorStore) Load(ctx context.Context, accountID int64) (*models.Cursor, error) {
	data, err := s.client.HGetAll(ctx, cursorKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	cursor := &models.Cursor{
		AccountID: accountID,
		Server:    data["server"],
		Key:       data["key"],
	}
	if raw, ok := data["position"]; ok {
		if n, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			cursor.Position = n
		}
	}
	if raw, ok := data["updated_at"]; ok {
		if ms, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil && ms > 0 {
			cursor.UpdatedAt = time.UnixMilli(ms)
		}
	}
	return cursor, nil
}

func (s *RedisCursorStore) Save(ctx context.Context, cursor *models.Cursor) error {
	key := cursorKey(cursor.AccountID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"server", cursor.Server,
			"key", cursor.Key,
			"position", cursor.Position,
			"updated_at", cursor.UpdatedAt.UnixMilli(),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *RedisCursorStore) Delete(ctx context.Context, accountID int64) error {
	if err := s.client.Del(ctx, cursorKey(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable
func (s *RedisCursorStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
