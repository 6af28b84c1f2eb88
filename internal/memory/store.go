// Package memory persists completed requests and self-reflections and ranks
// them for retrieval into later prompts.
//
// Records are append-only. Writes are expected to run off the response path;
// every Save operation returns its error so callers decide whether to log
// or ignore it.
package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quantumflow/nevra/internal/models"
)

// anonymousUser keys records of requests without a user id
const anonymousUser = "_anon"

// Store is the append-only record store behind both memory engines
type Store interface {
	// SaveMemory appends an interaction record
	SaveMemory(ctx context.Context, entry *models.MemoryEntry) error

	// ListMemories returns a user's records, most recent first
	ListMemories(ctx context.Context, userID string, limit int) ([]*models.MemoryEntry, error)

	// SaveAgentMemory appends a self-reflection record
	SaveAgentMemory(ctx context.Context, entry *models.AgentMemoryEntry) error

	// ListAgentMemories returns a user's reflections, most recent first.
	// A non-empty sessionID restricts the result to that session.
	ListAgentMemories(ctx context.Context, userID, sessionID string, limit int) ([]*models.AgentMemoryEntry, error)

	// Close releases the backend
	Close() error
}

// KnowledgeStore receives normalized facts about completed requests
type KnowledgeStore interface {
	SaveKnowledge(ctx context.Context, record *models.KnowledgeRecord) error
	ListKnowledge(ctx context.Context, userID string, limit int) ([]*models.KnowledgeRecord, error)
	Close() error
}

// NopStore discards writes and returns no records. It stands in when memory
// is disabled so callers never branch on a nil store.
type NopStore struct{}

func (NopStore) SaveMemory(context.Context, *models.MemoryEntry) error { return nil }

func (NopStore) ListMemories(context.Context, string, int) ([]*models.MemoryEntry, error) {
	return nil, nil
}

func (NopStore) SaveAgentMemory(context.Context, *models.AgentMemoryEntry) error { return nil }

func (NopStore) ListAgentMemories(context.Context, string, string, int) ([]*models.AgentMemoryEntry, error) {
	return nil, nil
}

func (NopStore) Close() error { return nil }

// NopKnowledgeStore is the KnowledgeStore used when no graph is configured
type NopKnowledgeStore struct{}

func (NopKnowledgeStore) SaveKnowledge(context.Context, *models.KnowledgeRecord) error { return nil }

func (NopKnowledgeStore) ListKnowledge(context.Context, string, int) ([]*models.KnowledgeRecord, error) {
	return nil, nil
}

func (NopKnowledgeStore) Close() error { return nil }

func userKey(userID string) string {
	if userID == "" {
		return anonymousUser
	}
	return userKeyEscaper.Replace(userID)
}

// ':' separates key segments; '%' is escaped too so the mapping stays one to one
var userKeyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// reverseTimestamp sorts newer records first under lexical key order
func reverseTimestamp(t time.Time) string {
	return fmt.Sprintf("%019d", math.MaxInt64-t.UnixNano())
}
