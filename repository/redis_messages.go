package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tunnel-chat/models"
)

const (
	// Room history expires after a week of silence.
	historyTTL = 7 * 24 * time.Hour

	historyKeyPrefix = "room:history:" // room:history:{roomId} - list of messages
)

// RedisMessageRepo keeps per-room history in a capped Redis list, for
// deployments where chat history should outlive the relay process
// without a relational store.
type RedisMessageRepo struct {
	rdb *redis.Client
	ctx context.Context
	cap int
}

func NewRedisMessageRepo(rdb *redis.Client, historyCap int) *RedisMessageRepo {
	if historyCap <= 0 {
		historyCap = 100
	}
	return &RedisMessageRepo{
		rdb: rdb,
		ctx: context.Background(),
		cap: historyCap,
	}
}

func (r *RedisMessageRepo) Append(msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := historyKeyPrefix + msg.RoomID
	if err := r.rdb.RPush(r.ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	// Trim to the newest cap entries and refresh the expiry.
	r.rdb.LTrim(r.ctx, key, int64(-r.cap), -1)
	r.rdb.Expire(r.ctx, key, historyTTL)
	return nil
}

func (r *RedisMessageRepo) ListByRoom(roomID string, limit int) ([]models.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := r.rdb.LRange(r.ctx, historyKeyPrefix+roomID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	msgs := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue // skip entries that no longer parse
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (r *RedisMessageRepo) CountByRoom(roomID string) (int, error) {
	n, err := r.rdb.LLen(r.ctx, historyKeyPrefix+roomID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return int(n), nil
}
