package awareness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

type fakeSource struct {
	reflections  []*models.AgentMemoryEntry
	improvements []string
	err          error

	gotLimit int
}

func (f *fakeSource) RecentReflections(_ context.Context, _, _ string, limit int) ([]*models.AgentMemoryEntry, error) {
	f.gotLimit = limit
	return f.reflections, f.err
}

func (f *fakeSource) ImprovementSuggestions(context.Context, string, int) ([]string, error) {
	return f.improvements, f.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(source MemorySource, logger *logging.Logger) *Engine {
	e := NewEngine(source, logger)
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestBuild_NoUser(t *testing.T) {
	ca, err := newTestEngine(nil, nil).Build(context.Background(), BuildParams{})
	require.NoError(t, err)
	assert.Nil(t, ca)
}

func TestBuild_PastAndFuture(t *testing.T) {
	var history []models.Message
	for i := 0; i < 8; i++ {
		history = append(history,
			models.Message{Role: models.RoleUser, Content: fmt.Sprintf("build a navbar variant %d", i)},
			models.Message{Role: models.RoleAssistant, Content: "ok"},
		)
	}
	history = append(history, models.Message{Role: models.RoleUser, Content: "fix the bug in the footer"})

	source := &fakeSource{
		reflections: []*models.AgentMemoryEntry{
			{Intent: models.IntentDebug, QualityScore: 0.9, WhatWorked: []string{"small diff"}},
			{Intent: models.IntentCodeGeneration, QualityScore: 0.5, WhatFailed: []string{"missing types"}},
		},
		improvements: []string{"add types", "write tests"},
	}

	ca, err := newTestEngine(source, nil).Build(context.Background(), BuildParams{
		UserID:    "u1",
		SessionID: "s1",
		Task:      "fix the footer",
		History:   history,
		Intent:    &models.IntentAnalysis{Primary: models.IntentDebug},
	})
	require.NoError(t, err)
	require.NotNil(t, ca)

	assert.Equal(t, models.StateIdle, ca.Current.State)
	assert.Equal(t, models.IntentDebug, ca.Current.Intent)
	assert.Equal(t, fixedNow, ca.Current.UpdatedAt)

	assert.Len(t, ca.Past.RecentMessages, 10)
	assert.Equal(t, history[len(history)-1], ca.Past.RecentMessages[9])
	assert.Equal(t, []models.Intent{models.IntentDebug, models.IntentCodeGeneration}, ca.Past.RecentIntents)
	assert.Equal(t, 9, ca.Past.Stats.TotalInteractions)
	assert.InDelta(t, 0.7, ca.Past.Stats.AverageQuality, 1e-9)
	assert.InDelta(t, 0.5, ca.Past.Stats.SuccessRate, 1e-9)
	assert.Len(t, ca.Past.Outcomes, 2)
	assert.Equal(t, reflectionLimit, source.gotLimit)

	assert.Equal(t, []string{"navbar", "footer"}, ca.Future.PlannedTasks)
	assert.Equal(t, []models.Intent{models.IntentTest, models.IntentRefactor}, ca.Future.UpcomingIntents)
	assert.Equal(t, []string{"add types", "write tests"}, ca.Future.PendingImprovements)
}

func TestBuild_SourceFailureIsLogged(t *testing.T) {
	logger := logging.NewTestLogger()
	e := newTestEngine(&fakeSource{err: errors.New("store down")}, logger.Logger)

	ca, err := e.Build(context.Background(), BuildParams{UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, ca)
	assert.Empty(t, ca.Past.Outcomes)
	assert.Empty(t, ca.Future.PendingImprovements)
	logger.AssertLogged(t, zapcore.WarnLevel, "failed to load recent reflections")
}

func TestUpdateContext_OnlyCurrentChanges(t *testing.T) {
	e := newTestEngine(nil, nil)
	ca, err := e.Build(context.Background(), BuildParams{
		UserID:  "u1",
		Task:    "build a navbar",
		History: []models.Message{{Role: models.RoleUser, Content: "build a navbar"}},
	})
	require.NoError(t, err)

	later := fixedNow.Add(time.Minute)
	e.now = func() time.Time { return later }
	next := e.UpdateContext(ca, models.StateExecuting, "")

	assert.Equal(t, models.StateExecuting, next.Current.State)
	assert.Equal(t, "build a navbar", next.Current.Task)
	assert.Equal(t, later, next.Current.UpdatedAt)
	assert.Equal(t, ca.Past, next.Past)
	assert.Equal(t, ca.Future, next.Future)

	// original untouched
	assert.Equal(t, models.StateIdle, ca.Current.State)
	assert.Nil(t, e.UpdateContext(nil, models.StateDone, ""))
}

func TestGenerateContextSummary_Deterministic(t *testing.T) {
	ca := &models.ContextAwareness{
		UserID: "u1",
		Current: models.CurrentContext{
			State:     models.StateExecuting,
			Intent:    models.IntentDebug,
			Task:      "fix the footer",
			UpdatedAt: fixedNow,
		},
		Past: models.PastContext{
			RecentMessages: []models.Message{{Role: models.RoleUser, Content: "fix   the\nfooter"}},
			RecentIntents:  []models.Intent{models.IntentDebug},
			Outcomes: []models.WorkflowOutcome{
				{Intent: models.IntentDebug, QualityScore: 0.8, WhatWorked: []string{"tests"}},
			},
			Stats: models.UserHistoryStats{TotalInteractions: 3, AverageQuality: 0.8, SuccessRate: 1},
		},
		Future: models.FutureContext{
			PlannedTasks:        []string{"footer"},
			UpcomingIntents:     []models.Intent{models.IntentTest},
			PendingImprovements: []string{"add types"},
		},
	}

	first := GenerateContextSummary(ca)
	other := *ca
	other.Current.UpdatedAt = fixedNow.Add(time.Hour)

	assert.Equal(t, first, GenerateContextSummary(&other))
	assert.Contains(t, first, "State: EXECUTING")
	assert.Contains(t, first, "- user: fix the footer")
	assert.Contains(t, first, "- debug (quality 0.80); worked: tests")
	assert.Contains(t, first, "Success rate: 100%")
	assert.Contains(t, first, "Likely next: test")
	assert.Contains(t, first, "- add types")

	assert.Empty(t, GenerateContextSummary(nil))
}
