package memory

import (
	"context"
	"fmt"

	"github.com/quantumflow/nevra/internal/config"
)

// NewStore opens the record store selected by cfg. A disabled memory
// configuration yields a NopStore.
func NewStore(ctx context.Context, cfg config.MemoryConfig) (Store, error) {
	if !cfg.Enabled {
		return NopStore{}, nil
	}

	switch cfg.Backend {
	case config.MemoryBackendBadger:
		return NewBadgerStore(cfg.BadgerPath)
	case config.MemoryBackendRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Value(),
			DB:       cfg.RedisDB,
		})
	case config.MemoryBackendNone, "":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// NewKnowledgeStore connects to Dgraph when an address is configured
func NewKnowledgeStore(ctx context.Context, cfg config.MemoryConfig) (KnowledgeStore, error) {
	if !cfg.Enabled || cfg.DgraphAddr == "" {
		return NopKnowledgeStore{}, nil
	}
	return NewDgraphKnowledgeStore(ctx, cfg.DgraphAddr)
}
