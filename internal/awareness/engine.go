// Package awareness assembles the current/past/future context snapshot that
// is injected into agent prompts for conversational continuity.
package awareness

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/intent"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

const (
	recentMessageLimit = 10
	reflectionLimit    = 5
	improvementLimit   = 5
	plannedTaskLimit   = 5

	// outcomes at or above this score count as successful
	successThreshold = 0.7
)

// upcoming lists the intents that usually follow a given intent
var upcoming = map[models.Intent][]models.Intent{
	models.IntentCodeGeneration: {models.IntentEdit, models.IntentTest},
	models.IntentEdit:           {models.IntentEdit, models.IntentTest},
	models.IntentDebug:          {models.IntentTest, models.IntentRefactor},
	models.IntentRefactor:       {models.IntentTest, models.IntentEdit},
	models.IntentTest:           {models.IntentDebug, models.IntentEdit},
	models.IntentQuestion:       {models.IntentExplanation, models.IntentCodeGeneration},
	models.IntentExplanation:    {models.IntentQuestion, models.IntentCodeGeneration},
}

// MemorySource supplies persisted self-reflection records
type MemorySource interface {
	RecentReflections(ctx context.Context, userID, sessionID string, limit int) ([]*models.AgentMemoryEntry, error)
	ImprovementSuggestions(ctx context.Context, userID string, limit int) ([]string, error)
}

// BuildParams describes the request the snapshot is built for
type BuildParams struct {
	UserID    string
	SessionID string
	State     models.WorkflowState
	Task      string
	History   []models.Message
	Intent    *models.IntentAnalysis
}

// Engine builds ContextAwareness snapshots
type Engine struct {
	source MemorySource
	logger *logging.Logger
	now    func() time.Time
}

// NewEngine creates an awareness engine. source may be nil, in which case
// past outcomes and pending improvements stay empty.
func NewEngine(source MemorySource, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		source: source,
		logger: logger.Named("awareness"),
		now:    time.Now,
	}
}

// Build returns nil, nil without a user id. Memory lookups that fail are
// logged and leave their part of the snapshot empty.
func (e *Engine) Build(ctx context.Context, p BuildParams) (*models.ContextAwareness, error) {
	if p.UserID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ca := &models.ContextAwareness{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Current: models.CurrentContext{
			State:     p.State,
			Task:      p.Task,
			UpdatedAt: e.now(),
		},
	}
	if ca.Current.State == "" {
		ca.Current.State = models.StateIdle
	}
	if p.Intent != nil {
		ca.Current.Intent = p.Intent.Primary
	}

	var reflections []*models.AgentMemoryEntry
	var improvements []string
	if e.source != nil {
		var err error
		reflections, err = e.source.RecentReflections(ctx, p.UserID, p.SessionID, reflectionLimit)
		if err != nil {
			e.logger.Warn(ctx, "failed to load recent reflections", zap.Error(err))
		}
		improvements, err = e.source.ImprovementSuggestions(ctx, p.UserID, improvementLimit)
		if err != nil {
			e.logger.Warn(ctx, "failed to load improvement suggestions", zap.Error(err))
		}
	}

	ca.Past = buildPast(p.History, reflections)
	ca.Future = models.FutureContext{
		PlannedTasks:        plannedTasks(p.History, p.Task),
		UpcomingIntents:     upcomingIntents(ca.Current.Intent, ca.Past.RecentIntents),
		PendingImprovements: improvements,
	}

	return ca, nil
}

// UpdateContext returns a copy of ca with only the current facet advanced.
// Past and future are shared with ca, not re-derived.
func (e *Engine) UpdateContext(ca *models.ContextAwareness, state models.WorkflowState, task string) *models.ContextAwareness {
	if ca == nil {
		return nil
	}
	next := *ca
	next.Current.State = state
	if task != "" {
		next.Current.Task = task
	}
	next.Current.UpdatedAt = e.now()
	return &next
}

func buildPast(history []models.Message, reflections []*models.AgentMemoryEntry) models.PastContext {
	past := models.PastContext{}

	start := len(history) - recentMessageLimit
	if start < 0 {
		start = 0
	}
	if recent := history[start:]; len(recent) > 0 {
		past.RecentMessages = append([]models.Message(nil), recent...)
	}

	// Most recent first, without repeats.
	seen := make(map[models.Intent]bool)
	for i := len(past.RecentMessages) - 1; i >= 0; i-- {
		m := past.RecentMessages[i]
		if m.Role != models.RoleUser {
			continue
		}
		in := intent.ClassifyText(m.Content)
		if !seen[in] {
			seen[in] = true
			past.RecentIntents = append(past.RecentIntents, in)
		}
	}

	for _, m := range history {
		if m.Role == models.RoleUser {
			past.Stats.TotalInteractions++
		}
	}

	if len(reflections) > reflectionLimit {
		reflections = reflections[:reflectionLimit]
	}
	var qualitySum float64
	successes := 0
	for _, r := range reflections {
		if r == nil {
			continue
		}
		past.Outcomes = append(past.Outcomes, models.WorkflowOutcome{
			Intent:       r.Intent,
			QualityScore: r.QualityScore,
			WhatWorked:   r.WhatWorked,
			WhatFailed:   r.WhatFailed,
			CreatedAt:    r.CreatedAt,
		})
		qualitySum += r.QualityScore
		if r.QualityScore >= successThreshold {
			successes++
		}
	}
	if n := len(past.Outcomes); n > 0 {
		past.Stats.AverageQuality = qualitySum / float64(n)
		past.Stats.SuccessRate = float64(successes) / float64(n)
	}

	return past
}

// plannedTasks ranks the components and features the user keeps asking
// about, most recurrent first.
func plannedTasks(history []models.Message, task string) []string {
	counts := make(map[string]int)
	var order []string
	add := func(text string) {
		for _, name := range append(intent.DetectComponents(text), intent.DetectFeatures(text)...) {
			if _, ok := counts[name]; !ok {
				order = append(order, name)
			}
			counts[name]++
		}
	}
	for _, m := range history {
		if m.Role == models.RoleUser {
			add(m.Content)
		}
	}
	if task != "" {
		add(task)
	}

	return topByCount(order, counts, plannedTaskLimit)
}

func upcomingIntents(current models.Intent, recent []models.Intent) []models.Intent {
	base := current
	if base == "" && len(recent) > 0 {
		base = recent[0]
	}
	if base == "" {
		return nil
	}
	return append([]models.Intent(nil), upcoming[base]...)
}

// topByCount sorts order by descending count keeping first-seen order for
// ties, then truncates to limit.
func topByCount(order []string, counts map[string]int, limit int) []string {
	out := append([]string(nil), order...)
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i]] > counts[out[j]]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
