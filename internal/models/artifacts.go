package models

import "time"

// ExecutionResult is the executor's output. A reviewer may replace Code
// or Explanation with an improved version.
type ExecutionResult struct {
	Code          string            `json:"code,omitempty"`
	Files         map[string]string `json:"files,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`
	Raw           string            `json:"raw,omitempty"`
	Model         string            `json:"model,omitempty"`
	TokensUsed    int               `json:"tokens_used"`
	ExecutionTime time.Duration     `json:"execution_time"`
	QualityScore  *float64          `json:"quality_score,omitempty"`
	Failed        bool              `json:"failed,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// HasOutput reports whether the result carries code, files or an explanation
func (r *ExecutionResult) HasOutput() bool {
	if r == nil || r.Failed {
		return false
	}
	return r.Code != "" || len(r.Files) > 0 || r.Explanation != ""
}

// Text returns the primary artifact: code if present, explanation otherwise
func (r *ExecutionResult) Text() string {
	if r == nil {
		return ""
	}
	if r.Code != "" {
		return r.Code
	}
	return r.Explanation
}

// Severity of a review issue
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// ReviewIssue is one problem reported by the reviewer
type ReviewIssue struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// ReviewResult is the parsed critique of an ExecutionResult
type ReviewResult struct {
	QualityScore  float64       `json:"quality_score"`
	Issues        []ReviewIssue `json:"issues,omitempty"`
	Suggestions   []string      `json:"suggestions,omitempty"`
	ImprovedCode  string        `json:"improved_code,omitempty"`
	Rejected      bool          `json:"rejected"`
	RejectReason  string        `json:"reject_reason,omitempty"`
	Raw           string        `json:"raw,omitempty"`
	ParseDegraded bool          `json:"parse_degraded,omitempty"`
}

// HasErrors reports whether any issue has error severity
func (r *ReviewResult) HasErrors() bool {
	if r == nil {
		return false
	}
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// NextAction is the outcome of a review decision
type NextAction string

const (
	ActionAccept NextAction = "accept"
	ActionRevise NextAction = "revise"
	ActionReject NextAction = "reject"
)

// ReviewDecision is the gate applied to a review
type ReviewDecision struct {
	Approved        bool       `json:"approved"`
	Rejected        bool       `json:"rejected"`
	NeedsRevision   bool       `json:"needs_revision"`
	NextAction      NextAction `json:"next_action"`
	Confidence      float64    `json:"confidence"`
	Reasons         []string   `json:"reasons,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// SelfReflectionResult is the parsed retrospective of a run
type SelfReflectionResult struct {
	WhatWorked    []string `json:"what_worked,omitempty"`
	WhatFailed    []string `json:"what_failed,omitempty"`
	ShouldImprove []string `json:"should_improve,omitempty"`
	Lessons       []string `json:"lessons,omitempty"`
	Confidence    float64  `json:"confidence"`
	Raw           string   `json:"raw,omitempty"`
}
