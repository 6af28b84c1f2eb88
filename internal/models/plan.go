package models

import (
	"fmt"
	"strings"
	"time"
)

// EnhancedPlan is an ordered task breakdown produced by the planner
type EnhancedPlan struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Tasks           []PlanTask      `json:"tasks"`
	Steps           []ExecutionStep `json:"steps"`
	QualityCriteria []string        `json:"quality_criteria"`
	ReviewChecklist []string        `json:"review_checklist"`
	Fallback        bool            `json:"fallback,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PlanTask is a single task in a plan
type PlanTask struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"` // IDs of tasks that must complete first
	Priority     string   `json:"priority,omitempty"`
}

// ExecutionStep is derived 1:1 from a PlanTask with dependencies
// expressed as 1-based step numbers
type ExecutionStep struct {
	Number       int    `json:"number"`
	TaskID       string `json:"task_id"`
	Action       string `json:"action"`
	Dependencies []int  `json:"dependencies,omitempty"`
}

// Markdown renders the plan for terminals and chat transcripts
func (p *EnhancedPlan) Markdown() string {
	if p == nil {
		return ""
	}

	var md strings.Builder

	md.WriteString(fmt.Sprintf("# %s\n\n", p.Title))
	if p.Description != "" {
		md.WriteString(fmt.Sprintf("%s\n\n", p.Description))
	}
	if p.ID != "" {
		md.WriteString(fmt.Sprintf("**Plan ID:** %s  \n", p.ID))
	}
	if !p.CreatedAt.IsZero() {
		md.WriteString(fmt.Sprintf("**Created:** %s  \n", p.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	md.WriteString("\n---\n\n")

	md.WriteString("## Steps\n\n")
	for _, step := range p.Steps {
		md.WriteString(fmt.Sprintf("%d. %s", step.Number, step.Action))
		if len(step.Dependencies) > 0 {
			deps := make([]string, len(step.Dependencies))
			for i, d := range step.Dependencies {
				deps[i] = fmt.Sprintf("%d", d)
			}
			md.WriteString(fmt.Sprintf(" _(after %s)_", strings.Join(deps, ", ")))
		}
		md.WriteString("\n")
	}
	md.WriteString("\n")

	if len(p.QualityCriteria) > 0 {
		md.WriteString("## Quality Criteria\n\n")
		for _, c := range p.QualityCriteria {
			md.WriteString(fmt.Sprintf("- %s\n", c))
		}
		md.WriteString("\n")
	}

	if len(p.ReviewChecklist) > 0 {
		md.WriteString("## Review Checklist\n\n")
		for _, c := range p.ReviewChecklist {
			md.WriteString(fmt.Sprintf("- [ ] %s\n", c))
		}
		md.WriteString("\n")
	}

	return md.String()
}
