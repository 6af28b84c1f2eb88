package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/agent"
	"github.com/quantumflow/nevra/internal/audit"
	"github.com/quantumflow/nevra/internal/awareness"
	"github.com/quantumflow/nevra/internal/decision"
	"github.com/quantumflow/nevra/internal/intent"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/memory"
	"github.com/quantumflow/nevra/internal/metrics"
	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/normalize"
	"github.com/quantumflow/nevra/internal/profile"
)

// ErrEmptyPrompt is returned for requests with neither text nor images
var ErrEmptyPrompt = errors.New("prompt is required")

// Config holds orchestrator tunables
type Config struct {
	// ApplyImprovements replaces builder code with the reviewer's
	// improved code when a review is accepted
	ApplyImprovements bool

	// ForceReview reviews results that already carry a passing score
	ForceReview bool

	// CircuitBreaker caps execute attempts across all revisions
	CircuitBreaker int

	// ReflectionLimit is the number of recent reflections injected as
	// lessons into the executor prompt
	ReflectionLimit int

	PlannerTimeout    time.Duration
	ExecutorTimeout   time.Duration
	ReviewerTimeout   time.Duration
	ReflectionTimeout time.Duration
	SaveTimeout       time.Duration
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		CircuitBreaker:    10,
		ReflectionLimit:   3,
		PlannerTimeout:    60 * time.Second,
		ExecutorTimeout:   3 * time.Minute,
		ReviewerTimeout:   90 * time.Second,
		ReflectionTimeout: 60 * time.Second,
		SaveTimeout:       10 * time.Second,
	}
}

// Dependencies are the collaborators of an Orchestrator. Only Agents is
// required; missing engines fall back to store-less defaults.
type Dependencies struct {
	Agents      *agent.Factory
	Decisions   *decision.Engine
	Profiles    *profile.Engine
	Awareness   *awareness.Engine
	Memory      *memory.Engine
	AgentMemory *memory.AgentEngine
	Audit       audit.Logger
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// Orchestrator runs requests through the pipeline. It is safe for
// concurrent use; every request gets its own state machine.
type Orchestrator struct {
	config      *Config
	agents      *agent.Factory
	decisions   *decision.Engine
	profiles    *profile.Engine
	awareness   *awareness.Engine
	memory      *memory.Engine
	agentMemory *memory.AgentEngine
	audit       audit.Logger
	metrics     *metrics.Metrics
	logger      *logging.Logger

	background sync.WaitGroup
}

// New creates an orchestrator
func New(config *Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Agents == nil {
		return nil, errors.New("agent factory is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.CircuitBreaker <= 0 {
		config.CircuitBreaker = DefaultConfig().CircuitBreaker
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	o := &Orchestrator{
		config:      config,
		agents:      deps.Agents,
		decisions:   deps.Decisions,
		profiles:    deps.Profiles,
		awareness:   deps.Awareness,
		memory:      deps.Memory,
		agentMemory: deps.AgentMemory,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      logger.Named("workflow"),
	}
	if o.decisions == nil {
		o.decisions = decision.NewEngine(nil)
	}
	if o.profiles == nil {
		o.profiles = profile.NewEngine(nil, logger)
	}
	if o.agentMemory == nil {
		o.agentMemory = memory.NewAgentEngine(nil, logger)
	}
	if o.awareness == nil {
		o.awareness = awareness.NewEngine(o.agentMemory, logger)
	}
	if o.memory == nil {
		o.memory = memory.NewEngine(nil, nil, nil, logger)
	}

	return o, nil
}

// Wait blocks until all background saves have finished
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// run is the mutable state of one request
type run struct {
	wc    *models.WorkflowContext
	sm    *StateMachine
	start time.Time

	stages []models.Stage
	seen   map[models.Stage]bool

	analysis  *models.IntentAnalysis
	profile   *models.UserProfile
	awareness *models.ContextAwareness
	decision  *models.WorkflowDecision
	plan      *models.EnhancedPlan
	result    *models.ExecutionResult
	review    *models.ReviewResult

	loop    loopState
	stop    string
	tripped bool
	quality *float64
}

func (r *run) record(stage models.Stage) {
	if r.seen[stage] {
		return
	}
	r.seen[stage] = true
	r.stages = append(r.stages, stage)
}

func (r *run) counters() map[string]interface{} {
	return map[string]interface{}{
		"execution_attempts": r.loop.execAttempts,
		"revision_attempts":  r.loop.reviseAttempts,
		"total_attempts":     r.loop.totalAttempts,
	}
}

// Execute runs one request and always returns exactly one result. Fatal
// failures, panics included, produce a result in the ERROR state.
func (o *Orchestrator) Execute(ctx context.Context, in *models.WorkflowContext) (result *models.WorkflowResult) {
	r := o.newRun(in)
	ctx = logging.WithRequestID(ctx, r.wc.RequestID)
	ctx = logging.WithUserID(ctx, r.wc.UserID)
	ctx = logging.WithSessionID(ctx, r.wc.SessionID)

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error(ctx, "workflow panicked",
				zap.Any("panic", p),
				zap.Stack("stack"))
			result = o.fail(ctx, r, fmt.Errorf("internal error: %v", p))
		}
		o.finish(ctx, r, result)
	}()

	o.logger.Info(ctx, "workflow started",
		zap.String("mode", string(r.wc.Mode)))

	if err := o.execute(ctx, r); err != nil {
		return o.fail(ctx, r, err)
	}
	return o.complete(ctx, r)
}

// newRun copies the caller's context so that the request id and metadata
// written during the run never leak back to the caller
func (o *Orchestrator) newRun(in *models.WorkflowContext) *run {
	wc := models.WorkflowContext{}
	if in != nil {
		wc = *in
	}
	if wc.RequestID == "" {
		wc.RequestID = uuid.New().String()
	}
	if !wc.Mode.Valid() {
		wc.Mode = models.ModeBuilder
	}
	meta := make(map[string]interface{}, len(wc.Metadata))
	for k, v := range wc.Metadata {
		meta[k] = v
	}
	wc.Metadata = meta

	r := &run{
		wc:    &wc,
		sm:    NewStateMachine(o.logger),
		start: time.Now(),
		seen:  make(map[models.Stage]bool),
	}
	if wc.OnStateChange != nil {
		r.sm.Observe(func(t Transition) {
			wc.OnStateChange(t.To, t.Details)
		})
	}
	return r
}

func (o *Orchestrator) status(r *run, s models.Status) {
	if r.wc.OnStatus != nil {
		r.wc.OnStatus(s)
	}
}

// stage records a finished stage and its duration
func (o *Orchestrator) stage(r *run, stage models.Stage, started time.Time) {
	r.record(stage)
	o.metrics.ObserveStage(string(stage), time.Since(started))
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	wc := r.wc
	if strings.TrimSpace(wc.Prompt) == "" && len(wc.Images) == 0 {
		return ErrEmptyPrompt
	}

	o.status(r, models.StatusPreprocessing)

	started := time.Now()
	input := normalize.Normalize(wc.Prompt, wc.Images)
	o.stage(r, models.StageNormalize, started)

	started = time.Now()
	r.analysis = intent.Analyze(input, wc.History, wc.FrameworkHint)
	o.stage(r, models.StageIntentAnalyze, started)

	started = time.Now()
	prof, err := o.profiles.LoadProfile(ctx, wc.UserID, wc.History)
	if err != nil {
		return fmt.Errorf("failed to load user profile: %w", err)
	}
	r.profile = prof
	o.stage(r, models.StageUserProfile, started)

	started = time.Now()
	ca, err := o.awareness.Build(ctx, awareness.BuildParams{
		UserID:    wc.UserID,
		SessionID: wc.SessionID,
		State:     r.sm.Current(),
		Task:      wc.Prompt,
		History:   wc.History,
		Intent:    r.analysis,
	})
	if err != nil {
		return fmt.Errorf("failed to build context awareness: %w", err)
	}
	r.awareness = ca
	if summary := awareness.GenerateContextSummary(ca); summary != "" {
		wc.SetMeta(models.MetaContextSummary, summary)
	}
	o.stage(r, models.StageContextAwareness, started)

	o.status(r, models.StatusRouting)
	started = time.Now()
	r.decision = o.decisions.MakeDecision(decision.Request{
		Analysis: r.analysis,
		Profile:  r.profile,
		Mode:     wc.Mode,
		Provider: wc.Provider,
		Input:    input,
	})
	o.stage(r, models.StageDecision, started)

	o.logger.Debug(ctx, "workflow decision",
		zap.String("intent", string(r.analysis.Primary)),
		zap.String("complexity", string(r.decision.Complexity)),
		zap.Float64("quality_threshold", r.decision.QualityThreshold),
		zap.Strings("reasons", r.decision.Reasons))

	o.retrieveMemories(ctx, r)

	if !r.decision.Skips(models.RolePlanner) {
		o.status(r, models.StatusPlanning)
		r.sm.Transition(ctx, models.StatePlanning, nil)

		started = time.Now()
		planCtx, cancel := withTimeout(ctx, o.config.PlannerTimeout)
		r.plan = o.agents.Planner(r.decision.Routing.Planner).Plan(planCtx, wc, r.analysis)
		cancel()
		o.stage(r, models.StagePlan, started)

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return o.runLoop(ctx, r)
}

// retrieveMemories injects similar past requests and recent lessons into
// the request metadata. Guests have no memory.
func (o *Orchestrator) retrieveMemories(ctx context.Context, r *run) {
	if r.wc.UserID == "" {
		return
	}

	scored, err := o.memory.Retrieve(ctx, r.wc.UserID, r.analysis)
	if err != nil {
		o.logger.Warn(ctx, "failed to retrieve memories", zap.Error(err))
	} else if len(scored) > 0 {
		r.wc.SetMeta(models.MetaMemories, memory.FormatMemories(scored))
	}

	if o.config.ReflectionLimit <= 0 {
		return
	}
	reflections, err := o.agentMemory.RecentReflections(ctx, r.wc.UserID, r.wc.SessionID, o.config.ReflectionLimit)
	if err != nil {
		o.logger.Warn(ctx, "failed to retrieve reflections", zap.Error(err))
		return
	}
	if lessons := memory.FormatReflections(reflections); lessons != "" {
		r.wc.SetMeta(models.MetaReflections, lessons)
	}
}

// runLoop is the bounded execute/review/revise loop. Exhausting a budget
// is not an error: the best result produced so far is kept.
func (o *Orchestrator) runLoop(ctx context.Context, r *run) error {
	limits := loopLimits{
		maxRetries:     r.decision.MaxRetries,
		maxRevisions:   r.decision.MaxRevisions,
		circuitBreaker: o.config.CircuitBreaker,
	}
	threshold := r.decision.QualityThreshold
	reviewing := !r.decision.Skips(models.RoleReviewer)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next := r.loop.begin()
		if reason := next.blocked(limits); reason != "" {
			r.stop = reason
			r.tripped = reason == StopCircuitBreaker
			if r.tripped {
				o.logger.Warn(ctx, "circuit breaker tripped",
					zap.Int("total_attempts", r.loop.totalAttempts))
			}
			return nil
		}
		r.loop = next

		if r.sm.Current() != models.StateExecuting {
			r.sm.Transition(ctx, models.StateExecuting, r.counters())
		}
		o.refreshContext(r)
		o.status(r, models.StatusExecuting)

		result := o.executeOnce(ctx, r)
		if r.result == nil || result.HasOutput() {
			r.result = result
		}

		if !result.HasOutput() {
			o.logger.Warn(ctx, "execution produced no output",
				zap.Int("execution_attempts", r.loop.execAttempts),
				zap.String("error", result.Error))
			if err := ctx.Err(); err != nil {
				return err
			}
			if !r.loop.canRetry(limits) {
				r.stop = StopRetriesExhausted
				return nil
			}
			if r.wc.Mode == models.ModeBuilder {
				continue
			}
			r.stop = StopNoOutput
			return nil
		}

		if !reviewing || !o.needsReview(result, threshold) {
			r.stop = StopReviewSkipped
			return nil
		}

		r.sm.Transition(ctx, models.StateReviewing, r.counters())
		o.status(r, models.StatusReviewing)

		review, err := o.reviewOnce(ctx, r, result)
		if err != nil {
			o.logger.Warn(ctx, "review failed, accepting result", zap.Error(err))
			r.stop = StopReviewFailed
			return nil
		}

		r.review = review
		score := review.QualityScore
		result.QualityScore = &score
		r.quality = &score

		verdict := decision.MakeReviewDecision(review, result, r.analysis, r.profile, threshold)
		if verdict.NeedsRevision || verdict.Rejected {
			next, ok := r.loop.revise(limits)
			r.loop = next
			if !ok {
				o.logger.Info(ctx, "revision budget exhausted",
					zap.Float64("quality_score", score),
					zap.Int("revision_attempts", r.loop.reviseAttempts))
				r.stop = StopRevisionsExhausted
				return nil
			}

			r.sm.Transition(ctx, models.StateRevising, r.counters())
			o.status(r, models.StatusRevising)
			r.record(models.StageRevise)
			r.wc.SetMeta(models.MetaRevisionFeedback, revisionFeedback(review, verdict, threshold))
			continue
		}

		if o.config.ApplyImprovements && r.wc.Mode == models.ModeBuilder && review.ImprovedCode != "" {
			result.Code = review.ImprovedCode
		}
		r.stop = StopAccepted
		return nil
	}
}

func (o *Orchestrator) needsReview(result *models.ExecutionResult, threshold float64) bool {
	return o.config.ForceReview || result.QualityScore == nil || *result.QualityScore < threshold
}

func (o *Orchestrator) executeOnce(ctx context.Context, r *run) *models.ExecutionResult {
	started := time.Now()
	execCtx, cancel := withTimeout(ctx, o.config.ExecutorTimeout)
	defer cancel()

	result := o.agents.Executor(r.decision.Routing.Executor).Execute(execCtx, r.wc, r.plan)
	o.stage(r, models.StageExecute, started)
	return result
}

func (o *Orchestrator) reviewOnce(ctx context.Context, r *run, result *models.ExecutionResult) (*models.ReviewResult, error) {
	started := time.Now()
	reviewCtx, cancel := withTimeout(ctx, o.config.ReviewerTimeout)
	defer cancel()

	review, err := o.agents.Reviewer(r.decision.Routing.Reviewer).Review(reviewCtx, r.wc, result, r.plan)
	o.stage(r, models.StageReview, started)
	return review, err
}

// refreshContext advances the awareness snapshot to the current state
func (o *Orchestrator) refreshContext(r *run) {
	if r.awareness == nil {
		return
	}
	r.awareness = o.awareness.UpdateContext(r.awareness, r.sm.Current(), "")
	r.wc.SetMeta(models.MetaContextSummary, awareness.GenerateContextSummary(r.awareness))
}

// revisionFeedback renders a review for the next executor prompt
func revisionFeedback(review *models.ReviewResult, verdict *models.ReviewDecision, threshold float64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Quality score %.2f, required %.2f.\n", review.QualityScore, threshold)
	if review.RejectReason != "" {
		fmt.Fprintf(&b, "Rejected: %s\n", review.RejectReason)
	}
	if len(review.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range review.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Description)
		}
	}
	if len(review.Suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		for _, s := range review.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if verdict != nil && len(verdict.Recommendations) > 0 {
		b.WriteString("Also:\n")
		for _, rec := range verdict.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// complete finishes a successful run
func (o *Orchestrator) complete(ctx context.Context, r *run) *models.WorkflowResult {
	details := r.counters()
	details["stop_reason"] = r.stop
	r.sm.Transition(ctx, models.StateDone, details)

	result := &models.WorkflowResult{
		Plan:     r.plan,
		Review:   r.review,
		Metadata: o.metadata(r),
	}
	if er := r.result; er != nil {
		result.Code = er.Code
		result.Files = er.Files
		result.Response = er.Explanation
		if result.Response == "" && r.wc.Mode == models.ModeBuilder {
			result.Response = er.Code
		}
		if er.Failed {
			result.Error = er.Error
		}
	}

	o.logger.Info(ctx, "workflow completed",
		zap.String("stop_reason", r.stop),
		zap.Int("total_attempts", r.loop.totalAttempts),
		zap.Duration("duration", result.Metadata.Duration))

	return result
}

// fail turns a fatal error into a user-safe result. IDLE has no edge to
// ERROR, so the final state is stamped directly when the machine refuses.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) *models.WorkflowResult {
	o.logger.Error(ctx, "workflow failed", zap.Error(err))
	r.sm.Transition(ctx, models.StateError, map[string]interface{}{"error": err.Error()})
	o.status(r, models.StatusError)

	completed := "none"
	if len(r.stages) > 0 {
		names := make([]string, len(r.stages))
		for i, s := range r.stages {
			names[i] = string(s)
		}
		completed = strings.Join(names, ", ")
	}

	md := o.metadata(r)
	md.FinalState = models.StateError
	md.StopReason = "error"

	return &models.WorkflowResult{
		Response: fmt.Sprintf("Sorry, the request could not be completed. Completed stages: %s.", completed),
		Plan:     r.plan,
		Error:    err.Error(),
		Metadata: md,
	}
}

func (o *Orchestrator) metadata(r *run) models.ResultMetadata {
	md := models.ResultMetadata{
		RequestID:             r.wc.RequestID,
		StagesExecuted:        append([]models.Stage(nil), r.stages...),
		ExecutionAttempts:     r.loop.execAttempts,
		RevisionAttempts:      r.loop.reviseAttempts,
		TotalAttempts:         r.loop.totalAttempts,
		FinalState:            r.sm.Current(),
		QualityScore:          r.quality,
		Decision:              r.decision,
		CircuitBreakerTripped: r.tripped,
		StopReason:            r.stop,
		Duration:              time.Since(r.start),
	}
	if r.analysis != nil {
		md.Intent = r.analysis.Primary
	}
	return md
}

// finish records metrics and hands persistence to the background
func (o *Orchestrator) finish(ctx context.Context, r *run, result *models.WorkflowResult) {
	md := result.Metadata
	o.metrics.RecordWorkflow(string(md.FinalState), string(r.wc.Mode), md.Duration,
		md.ExecutionAttempts, md.RevisionAttempts, md.TotalAttempts, md.CircuitBreakerTripped)

	if md.FinalState == models.StateDone {
		o.status(r, models.StatusSaving)
	}

	snapshot := *result
	bg := context.WithoutCancel(ctx)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		o.persist(bg, r, &snapshot)
	}()

	if md.FinalState == models.StateDone {
		o.status(r, models.StatusCompleted)
	}
}

// persist writes the audit row, the memory entry and the reflection.
// Failures are logged and counted, never surfaced.
func (o *Orchestrator) persist(ctx context.Context, r *run, result *models.WorkflowResult) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error(ctx, "background save panicked", zap.Any("panic", p))
			o.metrics.RecordSideEffectFailure("panic")
		}
	}()

	if o.audit != nil {
		err := o.withSaveTimeout(ctx, func(ctx context.Context) error {
			return o.audit.Log(ctx, audit.NewEntry(r.wc, result))
		})
		o.sideEffect(ctx, "audit", err)
	}

	if result.Metadata.FinalState != models.StateDone || r.wc.UserID == "" {
		return
	}

	err := o.withSaveTimeout(ctx, func(ctx context.Context) error {
		return o.memory.SaveResult(ctx, r.wc, r.analysis, result)
	})
	o.sideEffect(ctx, "memory", err)

	if r.decision.Skips(models.RoleReflection) {
		return
	}

	reflectCtx, cancel := withTimeout(ctx, o.config.ReflectionTimeout)
	reflection, err := o.agents.Reflector(r.decision.Routing.Reflection).Reflect(reflectCtx, agent.ReflectionInput{
		Context:  r.wc,
		Result:   r.result,
		Review:   r.review,
		Plan:     r.plan,
		Workflow: result,
		Analysis: r.analysis,
	})
	cancel()
	if err != nil {
		o.sideEffect(ctx, "reflection", err)
		return
	}

	var q float64
	if result.Metadata.QualityScore != nil {
		q = *result.Metadata.QualityScore
	}
	err = o.withSaveTimeout(ctx, func(ctx context.Context) error {
		return o.agentMemory.SaveReflection(ctx, r.wc, r.analysis.Primary, q, reflection)
	})
	o.sideEffect(ctx, "agent_memory", err)
}

func (o *Orchestrator) withSaveTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := withTimeout(ctx, o.config.SaveTimeout)
	defer cancel()
	return fn(ctx)
}

func (o *Orchestrator) sideEffect(ctx context.Context, operation string, err error) {
	if err == nil {
		return
	}
	o.logger.Warn(ctx, "background save failed",
		zap.String("operation", operation),
		zap.Error(err))
	o.metrics.RecordSideEffectFailure(operation)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
