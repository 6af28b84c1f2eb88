package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/quantumflow/nevra/internal/agent"
	"github.com/quantumflow/nevra/internal/audit"
	"github.com/quantumflow/nevra/internal/inference"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/memory"
	"github.com/quantumflow/nevra/internal/metrics"
	"github.com/quantumflow/nevra/internal/models"
)

const approved = "QUALITY_SCORE: 0.95\nISSUES:\n- none\nDECISION: APPROVE"

const planJSON = `{"title": "Navbar", "description": "Responsive navbar", "tasks": [
  {"id": "t1", "title": "Markup", "description": "Build the markup", "dependencies": [], "priority": "high"},
  {"id": "t2", "title": "Theme", "description": "Add dark mode", "dependencies": ["t1"], "priority": "medium"}
]}`

// fakeBackend answers by role, recognised from the prompt, and records
// every prompt it was sent
type fakeBackend struct {
	mu sync.Mutex

	executions  []string
	reviews     []string
	reflections []string
	panicOn     string

	executorPrompts []string
	reviewerPrompts []string
	plannerPrompts  []string
	reflectPrompts  []string
}

func (f *fakeBackend) Complete(_ context.Context, req *inference.CompletionRequest) (*inference.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	role := "executor"
	switch {
	case strings.Contains(req.Prompt, "WHAT_WORKED:"):
		role = "reflection"
	case strings.Contains(req.Prompt, "QUALITY_SCORE:"):
		role = "reviewer"
	case strings.Contains(req.Prompt, "Generate an implementation plan"):
		role = "planner"
	}
	if role == f.panicOn {
		panic("backend exploded")
	}

	var queue *[]string
	switch role {
	case "reflection":
		f.reflectPrompts = append(f.reflectPrompts, req.Prompt)
		queue = &f.reflections
	case "reviewer":
		f.reviewerPrompts = append(f.reviewerPrompts, req.Prompt)
		queue = &f.reviews
	case "planner":
		f.plannerPrompts = append(f.plannerPrompts, req.Prompt)
		return &inference.Completion{Content: planJSON, Model: req.Model}, nil
	default:
		f.executorPrompts = append(f.executorPrompts, req.Prompt)
		queue = &f.executions
	}

	if len(*queue) == 0 {
		return nil, errors.New("no scripted response for " + role)
	}
	content := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	if content == "!error" {
		return nil, &inference.StatusError{StatusCode: 400, Body: "bad request"}
	}
	return &inference.Completion{Content: content, Model: req.Model}, nil
}

func (f *fakeBackend) prompts(role string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch role {
	case "executor":
		return append([]string(nil), f.executorPrompts...)
	case "reviewer":
		return append([]string(nil), f.reviewerPrompts...)
	case "planner":
		return append([]string(nil), f.plannerPrompts...)
	}
	return append([]string(nil), f.reflectPrompts...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*audit.Entry
	err     error
}

func (r *recordingAudit) Log(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingAudit) all() []*audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.Entry(nil), r.entries...)
}

type failingMemoryStore struct {
	memory.NopStore
}

func (failingMemoryStore) SaveMemory(context.Context, *models.MemoryEntry) error {
	return errors.New("disk full")
}

type testRig struct {
	backend *fakeBackend
	audit   *recordingAudit
	logger  *logging.TestLogger
	orch    *Orchestrator
}

func newRig(t *testing.T, backend *fakeBackend, config *Config, deps Dependencies) *testRig {
	t.Helper()
	rig := &testRig{
		backend: backend,
		audit:   &recordingAudit{},
		logger:  logging.NewTestLogger(),
	}
	deps.Agents = agent.NewFactory(backend, nil, rig.logger.Logger)
	deps.Logger = rig.logger.Logger
	deps.Metrics = metrics.New(prometheus.NewRegistry())
	if deps.Audit == nil {
		deps.Audit = rig.audit
	}

	orch, err := New(config, deps)
	require.NoError(t, err)
	t.Cleanup(orch.Wait)
	rig.orch = orch
	return rig
}

type recorder struct {
	mu       sync.Mutex
	statuses []models.Status
	states   []models.WorkflowState
}

func (r *recorder) attach(wc *models.WorkflowContext) *models.WorkflowContext {
	wc.OnStatus = func(s models.Status) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.statuses = append(r.statuses, s)
	}
	wc.OnStateChange = func(s models.WorkflowState, _ map[string]interface{}) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, s)
	}
	return wc
}

func TestNew_RequiresAgents(t *testing.T) {
	_, err := New(nil, Dependencies{})
	assert.Error(t, err)
}

func TestExecute_TutorGreeting(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{"Hello! What would you like to learn today?"},
		reviews:    []string{approved},
	}
	rig := newRig(t, backend, nil, Dependencies{})
	rec := &recorder{}

	result := rig.orch.Execute(context.Background(), rec.attach(&models.WorkflowContext{
		Prompt: "hi",
		Mode:   models.ModeTutor,
	}))
	rig.orch.Wait()

	md := result.Metadata
	assert.Equal(t, []models.Stage{
		models.StageNormalize,
		models.StageIntentAnalyze,
		models.StageUserProfile,
		models.StageContextAwareness,
		models.StageDecision,
		models.StageExecute,
		models.StageReview,
	}, md.StagesExecuted)
	assert.Nil(t, result.Plan)
	assert.Equal(t, models.StateDone, md.FinalState)
	assert.Equal(t, StopAccepted, md.StopReason)
	assert.Equal(t, 1, md.ExecutionAttempts)
	assert.Equal(t, 0, md.RevisionAttempts)
	assert.NotEmpty(t, md.RequestID)
	require.NotNil(t, md.QualityScore)
	assert.InDelta(t, 0.95, *md.QualityScore, 1e-9)
	assert.Equal(t, "Hello! What would you like to learn today?", result.Response)
	assert.Empty(t, result.Error)

	assert.Equal(t, []models.Status{
		models.StatusPreprocessing,
		models.StatusRouting,
		models.StatusExecuting,
		models.StatusReviewing,
		models.StatusSaving,
		models.StatusCompleted,
	}, rec.statuses)
	assert.Equal(t, []models.WorkflowState{
		models.StateExecuting, models.StateReviewing, models.StateDone,
	}, rec.states)

	require.Len(t, backend.prompts("executor"), 1)
	assert.Equal(t, "hi", backend.prompts("executor")[0])
	assert.Empty(t, backend.prompts("reflection"), "guests are not reflected on")

	entries := rig.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, md.RequestID, entries[0].RequestID)
	assert.Equal(t, models.StateDone, entries[0].FinalState)
}

func TestExecute_BuilderRevisionCycle(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{
			"```jsx\nexport const Navbar = () => <nav />\n```",
			"```jsx\nexport const Navbar = () => <nav className=\"dark\" />\n```",
		},
		reviews: []string{
			"QUALITY_SCORE: 0.4\nISSUES:\n- [error] Menu does not collapse on mobile\nSUGGESTIONS:\n- Add a hamburger toggle\nDECISION: APPROVE",
			approved,
		},
	}
	rig := newRig(t, backend, nil, Dependencies{})
	rec := &recorder{}

	result := rig.orch.Execute(context.Background(), rec.attach(&models.WorkflowContext{
		Prompt: "Build a responsive navbar component with dark mode in React",
		Mode:   models.ModeBuilder,
	}))

	md := result.Metadata
	assert.Equal(t, models.StateDone, md.FinalState)
	assert.Equal(t, StopAccepted, md.StopReason)
	assert.Equal(t, 1, md.RevisionAttempts)
	assert.Equal(t, 1, md.ExecutionAttempts)
	assert.Equal(t, 2, md.TotalAttempts)
	assert.Contains(t, md.StagesExecuted, models.StagePlan)
	assert.Contains(t, md.StagesExecuted, models.StageRevise)
	require.NotNil(t, result.Plan)
	assert.Equal(t, "Navbar", result.Plan.Title)
	assert.Contains(t, result.Code, `className="dark"`)
	require.NotNil(t, result.Review)
	assert.False(t, result.Review.Rejected)

	prompts := backend.prompts("executor")
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "REVISION FEEDBACK")
	assert.Contains(t, prompts[1], "REVISION FEEDBACK")
	assert.Contains(t, prompts[1], "Menu does not collapse on mobile")
	assert.Contains(t, prompts[1], "Add a hamburger toggle")
	assert.Len(t, backend.prompts("planner"), 1)
	assert.Len(t, backend.prompts("reviewer"), 2)

	assert.Equal(t, []models.WorkflowState{
		models.StatePlanning,
		models.StateExecuting,
		models.StateReviewing,
		models.StateRevising,
		models.StateExecuting,
		models.StateReviewing,
		models.StateDone,
	}, rec.states)
	assert.Contains(t, rec.statuses, models.StatusPlanning)
	assert.Contains(t, rec.statuses, models.StatusRevising)
}

func TestExecute_RetriesEmptyBuilderOutput(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{"", "```js\nconst button = 1\n```"},
	}
	rig := newRig(t, backend, nil, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "make a button",
		Mode:   models.ModeBuilder,
	})

	md := result.Metadata
	assert.Equal(t, models.StateDone, md.FinalState)
	assert.Equal(t, StopReviewSkipped, md.StopReason)
	assert.Equal(t, 2, md.ExecutionAttempts)
	assert.Contains(t, result.Code, "const button = 1")
	assert.NotContains(t, md.StagesExecuted, models.StageReview)
	assert.Len(t, backend.prompts("executor"), 2)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	backend := &fakeBackend{executions: []string{"!error"}}
	rig := newRig(t, backend, nil, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "make a button",
		Mode:   models.ModeBuilder,
	})

	md := result.Metadata
	assert.Equal(t, models.StateDone, md.FinalState)
	assert.Equal(t, StopRetriesExhausted, md.StopReason)
	assert.Equal(t, 2, md.ExecutionAttempts)
	assert.Contains(t, result.Response, agent.FailureMarker)
	assert.NotEmpty(t, result.Error)
}

func TestExecute_TutorDoesNotRetryEmptyOutput(t *testing.T) {
	backend := &fakeBackend{executions: []string{""}}
	rig := newRig(t, backend, nil, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "what is a closure in javascript and how does it capture variables?",
		Mode:   models.ModeTutor,
	})

	assert.Equal(t, models.StateDone, result.Metadata.FinalState)
	assert.Equal(t, StopNoOutput, result.Metadata.StopReason)
	assert.Equal(t, 1, result.Metadata.ExecutionAttempts)
	assert.Len(t, backend.prompts("executor"), 1)
}

func TestExecute_CircuitBreaker(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{"```jsx\nexport const Navbar = () => null\n```"},
		reviews:    []string{"QUALITY_SCORE: 0.3\nDECISION: REJECT"},
	}
	config := DefaultConfig()
	config.CircuitBreaker = 2
	rig := newRig(t, backend, config, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "Build a responsive navbar component with dark mode in React",
		Mode:   models.ModeBuilder,
	})

	md := result.Metadata
	assert.True(t, md.CircuitBreakerTripped)
	assert.Equal(t, StopCircuitBreaker, md.StopReason)
	assert.Equal(t, 2, md.TotalAttempts)
	assert.Equal(t, 2, md.RevisionAttempts)
	assert.Equal(t, models.StateDone, md.FinalState)
	assert.Len(t, backend.prompts("executor"), 2)
	assert.NotEmpty(t, result.Code, "the best available result is kept")
	rig.logger.AssertLogged(t, zapcore.WarnLevel, "circuit breaker tripped")
}

func TestExecute_RevisionsExhausted(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{"```jsx\nexport const Navbar = () => null\n```"},
		reviews:    []string{"QUALITY_SCORE: 0.3\nDECISION: REJECT"},
	}
	rig := newRig(t, backend, nil, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "Build a responsive navbar component with dark mode in React",
		Mode:   models.ModeBuilder,
	})

	md := result.Metadata
	assert.Equal(t, StopRevisionsExhausted, md.StopReason)
	assert.Equal(t, md.Decision.MaxRevisions+1, md.RevisionAttempts)
	assert.Equal(t, md.Decision.MaxRevisions+1, md.TotalAttempts)
	require.NotNil(t, md.QualityScore)
	assert.InDelta(t, 0.3, *md.QualityScore, 1e-9)
	assert.False(t, md.CircuitBreakerTripped)
}

func TestExecute_ReviewerFailureAcceptsResult(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{"Closures capture variables from their enclosing scope."},
		reviews:    []string{"!error"},
	}
	rig := newRig(t, backend, nil, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "explain closures",
		Mode:   models.ModeTutor,
	})

	assert.Equal(t, models.StateDone, result.Metadata.FinalState)
	assert.Equal(t, StopReviewFailed, result.Metadata.StopReason)
	assert.Nil(t, result.Metadata.QualityScore)
	assert.Contains(t, result.Response, "Closures capture")
	rig.logger.AssertLogged(t, zapcore.WarnLevel, "review failed")
}

func TestExecute_ApplyImprovements(t *testing.T) {
	backend := &fakeBackend{
		executions: []string{"```jsx\nexport const Navbar = () => <nav />\n```"},
		reviews:    []string{"QUALITY_SCORE: 0.9\nIMPROVED_CODE:\n```jsx\nexport const Navbar = () => <nav aria-label=\"main\" />\n```\nDECISION: APPROVE"},
	}
	config := DefaultConfig()
	config.ApplyImprovements = true
	rig := newRig(t, backend, config, Dependencies{})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		Prompt: "Build a responsive navbar component with dark mode in React",
		Mode:   models.ModeBuilder,
	})

	assert.Equal(t, StopAccepted, result.Metadata.StopReason)
	assert.Contains(t, result.Code, `aria-label="main"`)
}

func TestExecute_EmptyPromptIsFatal(t *testing.T) {
	rig := newRig(t, &fakeBackend{}, nil, Dependencies{})
	rec := &recorder{}

	result := rig.orch.Execute(context.Background(), rec.attach(&models.WorkflowContext{Prompt: "   "}))
	rig.orch.Wait()

	assert.Equal(t, models.StateError, result.Metadata.FinalState)
	assert.Contains(t, result.Error, "prompt is required")
	assert.Contains(t, result.Response, "Completed stages: none")
	assert.Empty(t, result.Metadata.StagesExecuted)
	assert.Equal(t, []models.Status{models.StatusError}, rec.statuses)
	assert.Empty(t, rec.states)

	entries := rig.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.StateError, entries[0].FinalState)
}

func TestExecute_RecoversPanic(t *testing.T) {
	backend := &fakeBackend{panicOn: "executor"}
	rig := newRig(t, backend, nil, Dependencies{})
	rec := &recorder{}

	result := rig.orch.Execute(context.Background(), rec.attach(&models.WorkflowContext{
		Prompt: "make a button",
		Mode:   models.ModeBuilder,
	}))

	assert.Equal(t, models.StateError, result.Metadata.FinalState)
	assert.Contains(t, result.Error, "backend exploded")
	assert.Contains(t, result.Response, "decision")
	assert.Equal(t, []models.WorkflowState{models.StateExecuting, models.StateError}, rec.states)
	rig.logger.AssertLogged(t, zapcore.ErrorLevel, "workflow panicked")
}

func TestExecute_CancelledContext(t *testing.T) {
	rig := newRig(t, &fakeBackend{}, nil, Dependencies{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := rig.orch.Execute(ctx, &models.WorkflowContext{
		UserID: "u1",
		Prompt: "make a button",
		Mode:   models.ModeBuilder,
	})

	assert.Equal(t, models.StateError, result.Metadata.FinalState)
	assert.Contains(t, result.Error, context.Canceled.Error())
}

func TestExecute_DoesNotMutateCallerContext(t *testing.T) {
	backend := &fakeBackend{executions: []string{"```js\nconst b = 1\n```"}}
	rig := newRig(t, backend, nil, Dependencies{})

	wc := &models.WorkflowContext{Prompt: "make a button", Mode: models.ModeBuilder}
	result := rig.orch.Execute(context.Background(), wc)

	assert.NotEmpty(t, result.Metadata.RequestID)
	assert.Empty(t, wc.RequestID)
	assert.Nil(t, wc.Metadata)
}

func TestExecute_PersistsAndRecallsMemory(t *testing.T) {
	store, err := memory.NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend := &fakeBackend{
		executions:  []string{"Hello there!"},
		reviews:     []string{approved},
		reflections: []string{"WHAT_WORKED:\n- Friendly tone\nWHAT_FAILED:\n- none\nSHOULD_IMPROVE:\n- Offer topics\nLESSONS:\n- Keep greetings short\nCONFIDENCE: 0.8"},
	}
	logger := logging.NewNop()
	agentMemory := memory.NewAgentEngine(store, logger)
	rig := newRig(t, backend, nil, Dependencies{
		Memory:      memory.NewEngine(store, nil, nil, logger),
		AgentMemory: agentMemory,
	})

	wc := func() *models.WorkflowContext {
		return &models.WorkflowContext{UserID: "u1", SessionID: "s1", Prompt: "hi", Mode: models.ModeTutor}
	}

	first := rig.orch.Execute(context.Background(), wc())
	rig.orch.Wait()
	require.Equal(t, models.StateDone, first.Metadata.FinalState)

	memories, err := store.ListMemories(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "hi", memories[0].Prompt)

	reflections, err := agentMemory.RecentReflections(context.Background(), "u1", "s1", 5)
	require.NoError(t, err)
	require.Len(t, reflections, 1)
	assert.Equal(t, first.Metadata.RequestID, reflections[0].RequestID)
	require.Len(t, backend.prompts("reflection"), 1)

	rig.orch.Execute(context.Background(), wc())
	rig.orch.Wait()

	prompts := backend.prompts("executor")
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Lessons from earlier sessions")
	assert.Contains(t, prompts[1], "Keep greetings short")
	assert.Contains(t, prompts[1], "Offer topics")
}

func TestExecute_SideEffectFailuresDoNotAlterResult(t *testing.T) {
	backend := &fakeBackend{
		executions:  []string{"Hello there!"},
		reviews:     []string{approved},
		reflections: []string{"not a reflection"},
	}
	failing := &recordingAudit{err: errors.New("database is locked")}
	rig := newRig(t, backend, nil, Dependencies{
		Memory: memory.NewEngine(failingMemoryStore{}, nil, nil, nil),
		Audit:  failing,
	})

	result := rig.orch.Execute(context.Background(), &models.WorkflowContext{
		UserID: "u1",
		Prompt: "hi",
		Mode:   models.ModeTutor,
	})
	rig.orch.Wait()

	assert.Equal(t, models.StateDone, result.Metadata.FinalState)
	assert.Empty(t, result.Error)
	assert.Equal(t, "Hello there!", result.Response)
	assert.Len(t, failing.all(), 1)
	assert.NotEmpty(t, rig.logger.FilterMessage("background save failed").All())
	rig.logger.AssertField(t, "background save failed", "operation", "audit")
}

func TestRevisionFeedback(t *testing.T) {
	review := &models.ReviewResult{
		QualityScore: 0.4,
		Issues:       []models.ReviewIssue{{Severity: models.SeverityError, Description: "Missing key prop"}},
		Suggestions:  []string{"Use a stable key"},
		Rejected:     true,
		RejectReason: "quality score 0.40 is below the minimum of 0.60",
	}

	got := revisionFeedback(review, &models.ReviewDecision{Recommendations: []string{"Add tests"}}, 0.7)

	assert.Equal(t, strings.Join([]string{
		"Quality score 0.40, required 0.70.",
		"Rejected: quality score 0.40 is below the minimum of 0.60",
		"Issues:",
		"- [error] Missing key prop",
		"Suggestions:",
		"- Use a stable key",
		"Also:",
		"- Add tests",
	}, "\n"), got)
}
