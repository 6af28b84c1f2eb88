package models

import "time"

// WorkflowState is a state of the pipeline state machine
type WorkflowState string

const (
	StateIdle      WorkflowState = "IDLE"
	StatePlanning  WorkflowState = "PLANNING"
	StateExecuting WorkflowState = "EXECUTING"
	StateReviewing WorkflowState = "REVIEWING"
	StateRevising  WorkflowState = "REVISING"
	StateDone      WorkflowState = "DONE"
	StateError     WorkflowState = "ERROR"
)

// AllStates returns every defined workflow state
func AllStates() []WorkflowState {
	return []WorkflowState{
		StateIdle, StatePlanning, StateExecuting, StateReviewing,
		StateRevising, StateDone, StateError,
	}
}

// StatusFunc receives coarse progress updates
type StatusFunc func(status Status)

// StateChangeFunc receives every accepted state machine transition
type StateChangeFunc func(state WorkflowState, details map[string]interface{})

// WorkflowContext is the per-request envelope handed to the orchestrator.
// Only Metadata is mutated during a run.
type WorkflowContext struct {
	RequestID     string                 `json:"request_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Prompt        string                 `json:"prompt"`
	Mode          Mode                   `json:"mode"`
	Provider      string                 `json:"provider,omitempty"`
	History       []Message              `json:"history,omitempty"`
	Images        []string               `json:"images,omitempty"`
	FrameworkHint string                 `json:"framework,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	OnStatus      StatusFunc      `json:"-"`
	OnStateChange StateChangeFunc `json:"-"`
}

// Metadata keys written by the orchestrator and read by agents
const (
	MetaContextSummary   = "context_summary"
	MetaRevisionFeedback = "revision_feedback"
	MetaMemories         = "memories"
	MetaReflections      = "reflections"
)

// SetMeta stores a metadata value, allocating the bag on first use
func (w *WorkflowContext) SetMeta(key string, value interface{}) {
	if w.Metadata == nil {
		w.Metadata = make(map[string]interface{})
	}
	w.Metadata[key] = value
}

// MetaString returns a string metadata value or ""
func (w *WorkflowContext) MetaString(key string) string {
	if w == nil || w.Metadata == nil {
		return ""
	}
	s, _ := w.Metadata[key].(string)
	return s
}

// Routing maps each agent role to a model identifier
type Routing struct {
	Planner    string `json:"planner"`
	Executor   string `json:"executor"`
	Reviewer   string `json:"reviewer"`
	Reflection string `json:"self_reflection"`
}

// ModelFor returns the model routed to role
func (r Routing) ModelFor(role Role) string {
	switch role {
	case RolePlanner:
		return r.Planner
	case RoleExecutor:
		return r.Executor
	case RoleReviewer:
		return r.Reviewer
	case RoleReflection:
		return r.Reflection
	}
	return ""
}

// WorkflowDecision is computed once per request and never changed afterwards
type WorkflowDecision struct {
	Routing          Routing       `json:"routing"`
	SkipStages       map[Role]bool `json:"skip_stages"`
	Complexity       Complexity    `json:"complexity"`
	QualityThreshold float64       `json:"quality_threshold"`
	MaxRetries       int           `json:"max_retries"`
	MaxRevisions     int           `json:"max_revisions"`
	Priority         Priority      `json:"priority"`
	Reasons          []string      `json:"reasons,omitempty"`
}

// Skips reports whether the stage for role is skipped
func (d *WorkflowDecision) Skips(role Role) bool {
	if d == nil {
		return false
	}
	return d.SkipStages[role]
}

// ResultMetadata describes how a WorkflowResult was produced
type ResultMetadata struct {
	RequestID             string            `json:"request_id"`
	StagesExecuted        []Stage           `json:"stages_executed"`
	ExecutionAttempts     int               `json:"execution_attempts"`
	RevisionAttempts      int               `json:"revision_attempts"`
	TotalAttempts         int               `json:"total_attempts"`
	FinalState            WorkflowState     `json:"final_state"`
	QualityScore          *float64          `json:"quality_score,omitempty"`
	Intent                Intent            `json:"intent,omitempty"`
	Decision              *WorkflowDecision `json:"decision,omitempty"`
	CircuitBreakerTripped bool              `json:"circuit_breaker_tripped,omitempty"`
	StopReason            string            `json:"stop_reason,omitempty"`
	Duration              time.Duration     `json:"duration"`
}

// WorkflowResult is the single terminal artifact of a request
type WorkflowResult struct {
	Response string            `json:"response"`
	Code     string            `json:"code,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
	Plan     *EnhancedPlan     `json:"plan,omitempty"`
	Review   *ReviewResult     `json:"review,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata ResultMetadata    `json:"metadata"`
}
