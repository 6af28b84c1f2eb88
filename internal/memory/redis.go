package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quantumflow/nevra/internal/models"
)

// sessionScanWindow bounds how many reflections are read to filter by session
const sessionScanWindow = 200

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Retention expires a user's sorted set after the last write, 0 keeps forever
	Retention time.Duration
}

// RedisStore implements Store on Redis sorted sets scored by creation time:
//
//	nevra:mem:<user>    memory entries
//	nevra:agent:<user>  self-reflections
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, retention: config.Retention}, nil
}

// SaveMemory appends an interaction record
func (s *RedisStore) SaveMemory(ctx context.Context, entry *models.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("memory entry requires an id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}
	if err := s.append(ctx, "nevra:mem:"+userKey(entry.UserID), entry.CreatedAt, data); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// ListMemories returns up to limit records for userID, newest first
func (s *RedisStore) ListMemories(ctx context.Context, userID string, limit int) ([]*models.MemoryEntry, error) {
	raw, err := s.newest(ctx, "nevra:mem:"+userKey(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	entries := make([]*models.MemoryEntry, 0, len(raw))
	for _, r := range raw {
		var entry models.MemoryEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// SaveAgentMemory appends a self-reflection record
func (s *RedisStore) SaveAgentMemory(ctx context.Context, entry *models.AgentMemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("agent memory entry requires an id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal agent memory entry: %w", err)
	}
	if err := s.append(ctx, "nevra:agent:"+userKey(entry.UserID), entry.CreatedAt, data); err != nil {
		return fmt.Errorf("failed to store agent memory: %w", err)
	}
	return nil
}

// ListAgentMemories returns up to limit reflections for userID, newest first
func (s *RedisStore) ListAgentMemories(ctx context.Context, userID, sessionID string, limit int) ([]*models.AgentMemoryEntry, error) {
	window := limit
	if sessionID != "" {
		window = sessionScanWindow
	}
	raw, err := s.newest(ctx, "nevra:agent:"+userKey(userID), window)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent memories: %w", err)
	}

	var entries []*models.AgentMemoryEntry
	for _, r := range raw {
		var entry models.AgentMemoryEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			continue
		}
		if sessionID != "" && entry.SessionID != sessionID {
			continue
		}
		entries = append(entries, &entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func (s *RedisStore) append(ctx context.Context, key string, at time.Time, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(data),
	})

	// Set TTL if configured
	if s.retention > 0 {
		pipe.Expire(ctx, key, s.retention)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) newest(ctx context.Context, key string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	return s.client.ZRevRange(ctx, key, 0, stop).Result()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
