package models

import "time"

// Message represents a single message in a conversation
type Message struct {
	Role      string                 `json:"role"`               // "user", "assistant", "system"
	Content   string                 `json:"content"`            // Message content
	Metadata  map[string]interface{} `json:"metadata,omitempty"` // Additional metadata
	Timestamp time.Time              `json:"timestamp"`          // When the message was created
}

// Role constants for Message.Role
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Mode selects between producing source code and producing explanations
type Mode string

const (
	ModeBuilder Mode = "builder"
	ModeTutor   Mode = "tutor"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeBuilder || m == ModeTutor
}

// Intent is the classified purpose of a user message
type Intent string

const (
	IntentCodeGeneration Intent = "code_generation"
	IntentQuestion       Intent = "question"
	IntentEdit           Intent = "edit"
	IntentExplanation    Intent = "explanation"
	IntentDebug          Intent = "debug"
	IntentRefactor       Intent = "refactor"
	IntentTest           Intent = "test"
)

// AllIntents returns every intent in classification order
func AllIntents() []Intent {
	return []Intent{
		IntentDebug,
		IntentTest,
		IntentRefactor,
		IntentQuestion,
		IntentExplanation,
		IntentEdit,
		IntentCodeGeneration,
	}
}

// Complexity is a coarse size estimate of a request
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Role identifies one of the four agent roles
type Role string

const (
	RolePlanner    Role = "planner"
	RoleExecutor   Role = "executor"
	RoleReviewer   Role = "reviewer"
	RoleReflection Role = "self_reflection"
)

// Stage names recorded in WorkflowResult metadata
type Stage string

const (
	StageNormalize        Stage = "normalize"
	StageIntentAnalyze    Stage = "intent_analyze"
	StageUserProfile      Stage = "user_profile"
	StageContextAwareness Stage = "context_awareness"
	StageDecision         Stage = "decision"
	StagePlan             Stage = "plan"
	StageExecute          Stage = "execute"
	StageReview           Stage = "review"
	StageRevise           Stage = "revise"
)

// Status is the coarse progress string sent to status callbacks
type Status string

const (
	StatusPreprocessing Status = "preprocessing"
	StatusRouting       Status = "routing"
	StatusPlanning      Status = "planning"
	StatusExecuting     Status = "executing"
	StatusReviewing     Status = "reviewing"
	StatusRevising      Status = "revising"
	StatusSaving        Status = "saving"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

// Priority of a workflow decision
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)
