package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"upbit-autopilot/internal/autopilot"
)

// Redis keys for restart-safe orchestration state
const (
	llmUsageKey       = "autopilot:llm_usage"
	cooldownKeyPrefix = "autopilot:cooldown:"
)

// RedisState mirrors volatile orchestration state in Redis.
type RedisState struct {
	client *redis.Client
}

// NewRedisState wraps an existing Redis client.
func NewRedisState(client *redis.Client) *RedisState {
	return &RedisState{client: client}
}

// NewRedisClient connects and verifies with a ping.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// SaveLLMUsage persists the daily LLM counter. The entry expires after two
// days; a stale date key is ignored on restore anyway.
func (s *RedisState) SaveLLMUsage(ctx context.Context, usage autopilot.LLMUsage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("marshal llm usage: %w", err)
	}
	if err := s.client.Set(ctx, llmUsageKey, data, 48*time.Hour).Err(); err != nil {
		return fmt.Errorf("save llm usage: %w", err)
	}
	return nil
}

// LoadLLMUsage restores the persisted counter. Returns a zero value when
// nothing is stored.
func (s *RedisState) LoadLLMUsage(ctx context.Context) (autopilot.LLMUsage, error) {
	var usage autopilot.LLMUsage
	data, err := s.client.Get(ctx, llmUsageKey).Bytes()
	if err == redis.Nil {
		return usage, nil
	}
	if err != nil {
		return usage, fmt.Errorf("load llm usage: %w", err)
	}
	if err := json.Unmarshal(data, &usage); err != nil {
		return usage, fmt.Errorf("unmarshal llm usage: %w", err)
	}
	return usage, nil
}

// SaveCooldown records a market cooldown with TTL equal to its remaining
// duration, so expiry in Redis matches expiry in memory.
func (s *RedisState) SaveCooldown(ctx context.Context, market string, until time.Time) error {
	remaining := time.Until(until)
	if remaining <= 0 {
		return nil
	}
	key := cooldownKeyPrefix + market
	if err := s.client.Set(ctx, key, until.Format(time.RFC3339), remaining).Err(); err != nil {
		return fmt.Errorf("save cooldown for %s: %w", market, err)
	}
	return nil
}

// LoadCooldowns returns all unexpired market cooldowns.
func (s *RedisState) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	keys, err := s.client.Keys(ctx, cooldownKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list cooldown keys: %w", err)
	}

	out := make(map[string]time.Time, len(keys))
	for _, key := range keys {
		value, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load cooldown %s: %w", key, err)
		}
		until, err := time.Parse(time.RFC3339, value)
		if err != nil {
			continue
		}
		market := key[len(cooldownKeyPrefix):]
		out[market] = until
	}
	return out, nil
}
