package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/quantumflow/nevra/internal/models"
)

const (
	badgerMemoryPrefix = "mem:user:"
	badgerAgentPrefix  = "agent:user:"
)

// BadgerStore implements Store on an embedded BadgerDB. Keys embed a
// reversed timestamp so a prefix scan yields the newest records first:
//
//	mem:user:<user>:<revts>:<id>
//	agent:user:<user>:<revts>:<id>
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (creating if needed) a BadgerDB at path
func NewBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("badger path is empty")
	}
	path = expandPath(path)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// NewInMemoryBadgerStore opens a BadgerDB that lives only in memory
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory BadgerDB: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// SaveMemory appends an interaction record
func (s *BadgerStore) SaveMemory(ctx context.Context, entry *models.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("memory entry requires an id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}

	key := badgerMemoryPrefix + userKey(entry.UserID) + ":" + reverseTimestamp(entry.CreatedAt) + ":" + entry.ID
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// ListMemories returns up to limit records for userID, newest first
func (s *BadgerStore) ListMemories(ctx context.Context, userID string, limit int) ([]*models.MemoryEntry, error) {
	var entries []*models.MemoryEntry

	prefix := badgerMemoryPrefix + userKey(userID) + ":"
	err := s.scan(ctx, prefix, func(val []byte) (bool, error) {
		var entry models.MemoryEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return true, nil // skip malformed entries
		}
		entries = append(entries, &entry)
		return limit <= 0 || len(entries) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	return entries, nil
}

// SaveAgentMemory appends a self-reflection record
func (s *BadgerStore) SaveAgentMemory(ctx context.Context, entry *models.AgentMemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("agent memory entry requires an id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal agent memory entry: %w", err)
	}

	key := badgerAgentPrefix + userKey(entry.UserID) + ":" + reverseTimestamp(entry.CreatedAt) + ":" + entry.ID
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// ListAgentMemories returns up to limit reflections for userID, newest first
func (s *BadgerStore) ListAgentMemories(ctx context.Context, userID, sessionID string, limit int) ([]*models.AgentMemoryEntry, error) {
	var entries []*models.AgentMemoryEntry

	prefix := badgerAgentPrefix + userKey(userID) + ":"
	err := s.scan(ctx, prefix, func(val []byte) (bool, error) {
		var entry models.AgentMemoryEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return true, nil
		}
		if sessionID != "" && entry.SessionID != sessionID {
			return true, nil
		}
		entries = append(entries, &entry)
		return limit <= 0 || len(entries) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list agent memories: %w", err)
	}

	return entries, nil
}

// scan iterates values under prefix in key order until visit returns false
func (s *BadgerStore) scan(ctx context.Context, prefix string, visit func(val []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			more := true
			err := it.Item().Value(func(val []byte) error {
				var err error
				more, err = visit(val)
				return err
			})
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		return nil
	})
}

// Close closes the BadgerDB instance
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
