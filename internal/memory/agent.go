package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

// improvementWindow is the number of recent reflections mined for suggestions
const improvementWindow = 50

// AgentEngine persists self-reflections and serves them back as past
// outcomes and pending improvements
type AgentEngine struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewAgentEngine creates an agent memory engine. A nil store degrades to a no-op.
func NewAgentEngine(store Store, logger *logging.Logger) *AgentEngine {
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AgentEngine{
		store:  store,
		logger: logger.Named("agent_memory"),
		now:    time.Now,
	}
}

// RecentReflections returns the user's latest reflections, optionally
// restricted to one session
func (a *AgentEngine) RecentReflections(ctx context.Context, userID, sessionID string, limit int) ([]*models.AgentMemoryEntry, error) {
	entries, err := a.store.ListAgentMemories(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load reflections: %w", err)
	}
	return entries, nil
}

// ImprovementSuggestions ranks the should-improve items of recent
// reflections by how often they recur. Ties keep the most recent first.
func (a *AgentEngine) ImprovementSuggestions(ctx context.Context, userID string, limit int) ([]string, error) {
	entries, err := a.store.ListAgentMemories(ctx, userID, "", improvementWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load reflections: %w", err)
	}

	type suggestion struct {
		text  string
		count int
		order int
	}
	seen := make(map[string]*suggestion)
	var ranked []*suggestion
	for _, e := range entries {
		for _, item := range e.ShouldImprove {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" {
				continue
			}
			if s, ok := seen[key]; ok {
				s.count++
				continue
			}
			s := &suggestion{text: strings.TrimSpace(item), count: 1, order: len(ranked)}
			seen[key] = s
			ranked = append(ranked, s)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].count > ranked[j].count
	})

	var out []string
	for _, s := range ranked {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.text)
	}
	return out, nil
}

// SaveReflection stores reflection for the finished request
func (a *AgentEngine) SaveReflection(ctx context.Context, wc *models.WorkflowContext, intent models.Intent, quality float64, reflection *models.SelfReflectionResult) error {
	if wc == nil || reflection == nil {
		return errors.New("nothing to save")
	}

	entry := &models.AgentMemoryEntry{
		ID:            uuid.NewString(),
		UserID:        wc.UserID,
		SessionID:     wc.SessionID,
		RequestID:     wc.RequestID,
		Intent:        intent,
		QualityScore:  quality,
		WhatWorked:    reflection.WhatWorked,
		WhatFailed:    reflection.WhatFailed,
		ShouldImprove: reflection.ShouldImprove,
		Lessons:       reflection.Lessons,
		Confidence:    reflection.Confidence,
		CreatedAt:     a.now(),
	}
	if err := a.store.SaveAgentMemory(ctx, entry); err != nil {
		return fmt.Errorf("failed to save reflection: %w", err)
	}
	return nil
}

// FormatReflections renders the lessons and improvements of entries as a
// deduplicated bullet list for prompts
func FormatReflections(entries []*models.AgentMemoryEntry) string {
	seen := make(map[string]bool)
	var lines []string
	add := func(item string) {
		item = oneLine(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			return
		}
		seen[key] = true
		lines = append(lines, "- "+item)
	}

	for _, e := range entries {
		for _, l := range e.Lessons {
			add(l)
		}
		for _, s := range e.ShouldImprove {
			add(s)
		}
	}
	return strings.Join(lines, "\n")
}
