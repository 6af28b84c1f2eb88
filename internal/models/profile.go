package models

import "time"

// UserProfile is rebuilt on every request and never persisted by the core
type UserProfile struct {
	UserID      string                 `json:"user_id"`
	Name        string                 `json:"name,omitempty"`
	Email       string                 `json:"email,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	History     HistoryStats           `json:"history"`
	Behavior    Behavior               `json:"behavior"`
}

// HistoryStats are derived from the conversation history
type HistoryStats struct {
	MessageCount       int      `json:"message_count"`
	CommonIntents      []Intent `json:"common_intents,omitempty"`
	PreferredFramework string   `json:"preferred_framework,omitempty"`
	PreferredStyle     string   `json:"preferred_style,omitempty"`
	AverageComplexity  float64  `json:"average_complexity"`
}

// Detail levels for Behavior.DetailLevel
const (
	DetailLow    = "low"
	DetailMedium = "medium"
	DetailHigh   = "high"
)

// Behavior captures how the user tends to interact
type Behavior struct {
	DetailLevel        string `json:"detail_level"`
	PrefersCode        bool   `json:"prefers_code"`
	PrefersExplanation bool   `json:"prefers_explanation"`
}

// FavorsDetail reports whether the behaviour profile asks for detailed output
func (p *UserProfile) FavorsDetail() bool {
	return p != nil && p.Behavior.DetailLevel == DetailHigh
}

// ContextAwareness is the current/past/future triad injected into prompts
type ContextAwareness struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Current   CurrentContext `json:"current"`
	Past      PastContext    `json:"past"`
	Future    FutureContext  `json:"future"`
}

// CurrentContext is the state of the request being processed
type CurrentContext struct {
	State     WorkflowState `json:"state"`
	Task      string        `json:"task,omitempty"`
	Intent    Intent        `json:"intent,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PastContext summarises earlier interactions and their outcomes
type PastContext struct {
	RecentMessages []Message         `json:"recent_messages,omitempty"`
	RecentIntents  []Intent          `json:"recent_intents,omitempty"`
	Outcomes       []WorkflowOutcome `json:"outcomes,omitempty"`
	Stats          UserHistoryStats  `json:"stats"`
}

// WorkflowOutcome is a condensed record of a past run
type WorkflowOutcome struct {
	Intent       Intent    `json:"intent"`
	QualityScore float64   `json:"quality_score"`
	WhatWorked   []string  `json:"what_worked,omitempty"`
	WhatFailed   []string  `json:"what_failed,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserHistoryStats aggregates past outcomes
type UserHistoryStats struct {
	TotalInteractions int     `json:"total_interactions"`
	AverageQuality    float64 `json:"average_quality"`
	SuccessRate       float64 `json:"success_rate"`
}

// FutureContext anticipates what the user is likely to do next
type FutureContext struct {
	PlannedTasks        []string `json:"planned_tasks,omitempty"`
	UpcomingIntents     []Intent `json:"upcoming_intents,omitempty"`
	PendingImprovements []string `json:"pending_improvements,omitempty"`
}
