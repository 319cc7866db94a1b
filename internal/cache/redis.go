// Package cache is the Redis adapter for the append-only match history
// pipeline: finished matches push one record per player onto a queue, and
// the historian service drains the queue into Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list holding pending match results.
const DefaultQueueName = "quizgrid_results"

// MatchResultRecord is one player's final score for one match.
type MatchResultRecord struct {
	Username  string `json:"username"`
	Category  string `json:"category"`
	Score     int    `json:"score"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// HistoryQueue implements the match engine's HistorySink against a Redis
// list, keeping persistence off the match actor's critical path.
type HistoryQueue struct {
	rdb   *redis.Client
	queue string
}

// NewHistoryQueue connects to Redis using REDIS_ADDR / REDIS_DB /
// HISTORIAN_QUEUE_NAME and pings it.
func NewHistoryQueue(ctx context.Context) (*HistoryQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: GetEnv("REDIS_ADDR", "localhost:6379"),
		DB:   GetEnvInt("REDIS_DB", 0),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &HistoryQueue{
		rdb:   rdb,
		queue: GetEnv("HISTORIAN_QUEUE_NAME", DefaultQueueName),
	}, nil
}

// SaveResult pushes one result record onto the queue.
func (h *HistoryQueue) SaveResult(ctx context.Context, username, category string, score int) error {
	data, err := json.Marshal(MatchResultRecord{
		Username:  username,
		Category:  category,
		Score:     score,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal result record: %w", err)
	}
	if err := h.rdb.RPush(ctx, h.queue, data).Err(); err != nil {
		return fmt.Errorf("rpush to %s: %w", h.queue, err)
	}
	return nil
}

// PopResult blocks up to timeout for the next queued record. It returns
// (nil, nil) when the wait times out with nothing queued.
func (h *HistoryQueue) PopResult(ctx context.Context, timeout time.Duration) (*MatchResultRecord, error) {
	res, err := h.rdb.BLPop(ctx, timeout, h.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	var record MatchResultRecord
	if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
		return nil, fmt.Errorf("invalid result record: %w", err)
	}
	return &record, nil
}

// GetEnv reads an environment variable or returns a default.
func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// GetEnvInt parses an environment variable as an integer, else a default.
func GetEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
