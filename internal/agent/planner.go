package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/models"
)

// Planner generates execution plans
type Planner struct {
	base
}

// Plan asks the backend for a task breakdown. It never fails: backend or
// parse errors yield the deterministic fallback plan.
func (p *Planner) Plan(ctx context.Context, wc *models.WorkflowContext, analysis *models.IntentAnalysis) *models.EnhancedPlan {
	completion, err := p.complete(ctx, wc, planPrompt(wc, analysis), false)
	if err != nil {
		p.logger.Warn(ctx, "plan generation failed, using fallback plan", zap.Error(err))
		return FallbackPlan(wc.Prompt, analysis)
	}

	plan, err := p.parsePlan(completion.Content, analysis)
	if err != nil {
		p.logger.Warn(ctx, "failed to parse plan, using fallback plan", zap.Error(err))
		return FallbackPlan(wc.Prompt, analysis)
	}

	return plan
}

type rawPlan struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Tasks       []struct {
		ID           string   `json:"id"`
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Dependencies []string `json:"dependencies"`
		Priority     string   `json:"priority"`
	} `json:"tasks"`
}

// parsePlan extracts the plan from LLM output
func (p *Planner) parsePlan(response string, analysis *models.IntentAnalysis) (*models.EnhancedPlan, error) {
	var raw rawPlan
	if err := decodeJSON(p.role, response, &raw); err != nil {
		return nil, err
	}
	if len(raw.Tasks) == 0 {
		return nil, &ParseError{Role: p.role, Reason: "plan has no tasks", Raw: response}
	}
	if limit := p.config.MaxPlanTasks; limit > 0 && len(raw.Tasks) > limit {
		raw.Tasks = raw.Tasks[:limit]
	}

	plan := &models.EnhancedPlan{
		ID:          newPlanID(),
		Title:       raw.Title,
		Description: raw.Description,
		Tasks:       make([]models.PlanTask, len(raw.Tasks)),
		CreatedAt:   time.Now(),
	}
	if plan.Title == "" {
		plan.Title = "Implementation plan"
	}

	for i, t := range raw.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			id = fmt.Sprintf("t%d", i+1)
		}
		title := strings.TrimSpace(t.Title)
		if title == "" {
			title = truncate(strings.TrimSpace(t.Description), 80)
		}
		plan.Tasks[i] = models.PlanTask{
			ID:           id,
			Title:        title,
			Description:  t.Description,
			Dependencies: t.Dependencies,
			Priority:     strings.ToLower(t.Priority),
		}
	}

	plan.Steps = BuildSteps(plan.Tasks)
	plan.QualityCriteria = QualityCriteria(analysis)
	plan.ReviewChecklist = ReviewChecklist(analysis)

	return plan, nil
}

// FallbackPlan is the two-step plan used when no plan could be generated
func FallbackPlan(prompt string, analysis *models.IntentAnalysis) *models.EnhancedPlan {
	tasks := []models.PlanTask{
		{
			ID:          "analyze",
			Title:       "Analyze requirements",
			Description: "Identify what the request asks for and any constraints",
			Priority:    "high",
		},
		{
			ID:           "generate",
			Title:        "Generate solution",
			Description:  "Produce the solution for: " + truncate(prompt, 200),
			Dependencies: []string{"analyze"},
			Priority:     "high",
		},
	}

	return &models.EnhancedPlan{
		ID:              newPlanID(),
		Title:           "Fallback plan",
		Description:     "Analyze the request, then generate the solution",
		Tasks:           tasks,
		Steps:           BuildSteps(tasks),
		QualityCriteria: QualityCriteria(analysis),
		ReviewChecklist: ReviewChecklist(analysis),
		Fallback:        true,
		CreatedAt:       time.Now(),
	}
}

// BuildSteps derives one step per task, mapping task id dependencies to
// step numbers. Unknown ids and self references are dropped.
func BuildSteps(tasks []models.PlanTask) []models.ExecutionStep {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, dup := index[t.ID]; !dup {
			index[t.ID] = i + 1
		}
	}

	steps := make([]models.ExecutionStep, len(tasks))
	for i, t := range tasks {
		action := t.Title
		if t.Description != "" && t.Description != t.Title {
			action = t.Title + ": " + t.Description
		}
		step := models.ExecutionStep{
			Number: i + 1,
			TaskID: t.ID,
			Action: action,
		}
		for _, dep := range t.Dependencies {
			n, ok := index[dep]
			if !ok || n == step.Number {
				continue
			}
			step.Dependencies = append(step.Dependencies, n)
		}
		steps[i] = step
	}
	return steps
}

// QualityCriteria assembles static criteria conditioned on the request
func QualityCriteria(analysis *models.IntentAnalysis) []string {
	criteria := []string{
		"Addresses every part of the request",
		"Runs without syntax or runtime errors",
	}
	if analysis == nil {
		return criteria
	}

	r := analysis.Requirements
	if r.Framework != "" {
		criteria = append(criteria, fmt.Sprintf("Follows %s conventions", r.Framework))
	}
	if r.Style != "" {
		criteria = append(criteria, fmt.Sprintf("Uses %s styling consistently", r.Style))
	}
	if len(r.Components) > 0 {
		criteria = append(criteria, "Includes components: "+strings.Join(r.Components, ", "))
	}
	for _, f := range r.Features {
		switch f {
		case "responsive":
			criteria = append(criteria, "Layout works on mobile, tablet and desktop")
		case "dark_mode":
			criteria = append(criteria, "Supports light and dark themes")
		case "authentication":
			criteria = append(criteria, "Protects private routes and handles auth failures")
		case "validation":
			criteria = append(criteria, "Validates input with clear error messages")
		case "api":
			criteria = append(criteria, "Handles loading and error states of remote calls")
		}
	}
	if analysis.Primary == models.IntentDebug || analysis.Context.HasErrors {
		criteria = append(criteria, "Fixes the root cause of the reported error")
	}
	if analysis.Primary == models.IntentTest {
		criteria = append(criteria, "Covers normal, edge and failure cases")
	}
	return criteria
}

// ReviewChecklist assembles the reviewer's checklist
func ReviewChecklist(analysis *models.IntentAnalysis) []string {
	checklist := []string{
		"No syntax errors or unfinished code",
		"No hard-coded secrets",
		"Edge cases handled",
	}
	if analysis == nil {
		return checklist
	}
	if len(analysis.Requirements.Components) > 0 {
		checklist = append(checklist, "Accessible markup (labels, alt text, keyboard navigation)")
	}
	if analysis.Primary == models.IntentRefactor {
		checklist = append(checklist, "Behaviour unchanged by the refactor")
	}
	return checklist
}

func newPlanID() string {
	return "plan_" + uuid.NewString()
}
