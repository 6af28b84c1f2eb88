package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantumflow/nevra/internal/models"
)

// Config holds agent tunables
type Config struct {
	// SystemPrompts overrides the built-in system prompt per role
	SystemPrompts map[models.Role]string

	// MaxPlanTasks caps the number of tasks kept from a generated plan
	MaxPlanTasks int
}

// DefaultConfig returns the default agent configuration
func DefaultConfig() *Config {
	return &Config{
		MaxPlanTasks: 8,
	}
}

func (c *Config) systemPrompt(role models.Role, mode models.Mode) string {
	if p, ok := c.SystemPrompts[role]; ok && p != "" {
		return p
	}

	switch role {
	case models.RolePlanner:
		return "You are a senior software architect. You break requests into small, ordered, verifiable tasks."
	case models.RoleReviewer:
		return "You are a strict code reviewer. You score work honestly and reject output that does not meet the request."
	case models.RoleReflection:
		return "You review finished work sessions and extract concise, reusable lessons."
	}

	if mode == models.ModeTutor {
		return "You are a patient programming tutor. Explain concepts step by step with short examples."
	}
	return "You are an expert software engineer. Produce complete, working code for the request."
}

// planPrompt asks for a JSON task breakdown
func planPrompt(wc *models.WorkflowContext, analysis *models.IntentAnalysis) string {
	var p strings.Builder

	fmt.Fprintf(&p, "User Request: %s\n\n", wc.Prompt)

	if analysis != nil {
		r := analysis.Requirements
		p.WriteString("Detected Context:\n")
		fmt.Fprintf(&p, "- Intent: %s\n", analysis.Primary)
		if r.Framework != "" {
			fmt.Fprintf(&p, "- Framework: %s\n", r.Framework)
		}
		if r.Style != "" {
			fmt.Fprintf(&p, "- Style: %s\n", r.Style)
		}
		if len(r.Components) > 0 {
			fmt.Fprintf(&p, "- Components: %s\n", strings.Join(r.Components, ", "))
		}
		if len(r.Features) > 0 {
			fmt.Fprintf(&p, "- Features: %s\n", strings.Join(r.Features, ", "))
		}
		if analysis.Context.HasErrors {
			p.WriteString("- The user reported an error\n")
		}
		p.WriteString("\n")
	}

	if memories := wc.MetaString(models.MetaMemories); memories != "" {
		fmt.Fprintf(&p, "Similar past requests:\n%s\n\n", memories)
	}

	p.WriteString(`Task: Generate an implementation plan.

IMPORTANT RULES:
1. Break the work into 2-8 small tasks
2. Order tasks so dependencies come first
3. Each task must be specific and verifiable

Respond with ONLY a JSON object in this EXACT format:
{
  "title": "Brief plan title",
  "description": "One-sentence summary of what will be built",
  "tasks": [
    {"id": "t1", "title": "Task title", "description": "What to do", "dependencies": [], "priority": "high|medium|low"}
  ]
}

JSON Response:`)

	return p.String()
}

// executePrompt renders the plan and any revision feedback around the
// user's request
func executePrompt(wc *models.WorkflowContext, plan *models.EnhancedPlan) string {
	var p strings.Builder

	if plan == nil {
		p.WriteString(wc.Prompt)
	} else {
		fmt.Fprintf(&p, "User Request: %s\n\n", wc.Prompt)
		fmt.Fprintf(&p, "Plan: %s\n", plan.Title)
		for _, step := range plan.Steps {
			fmt.Fprintf(&p, "%d. %s\n", step.Number, step.Action)
		}
		if len(plan.QualityCriteria) > 0 {
			p.WriteString("\nQuality Criteria:\n")
			for _, c := range plan.QualityCriteria {
				fmt.Fprintf(&p, "- %s\n", c)
			}
		}
	}

	if reflections := wc.MetaString(models.MetaReflections); reflections != "" {
		fmt.Fprintf(&p, "\n\nLessons from earlier sessions:\n%s", reflections)
	}

	if feedback := wc.MetaString(models.MetaRevisionFeedback); feedback != "" {
		fmt.Fprintf(&p, "\n\nREVISION FEEDBACK (fix these problems in your new answer):\n%s", feedback)
	}

	if wc.Mode != models.ModeTutor {
		p.WriteString("\n\nWhen you produce several files, put each in its own block introduced by a line `FILE: path/to/file`.")
	}

	return p.String()
}

// reviewPrompt asks for a critique in a line-oriented format the reviewer
// parses with patterns
func reviewPrompt(wc *models.WorkflowContext, result *models.ExecutionResult, plan *models.EnhancedPlan) string {
	var p strings.Builder

	fmt.Fprintf(&p, "Original Request: %s\n\n", wc.Prompt)

	if plan != nil && len(plan.ReviewChecklist) > 0 {
		p.WriteString("Review Checklist:\n")
		for _, c := range plan.ReviewChecklist {
			fmt.Fprintf(&p, "- %s\n", c)
		}
		p.WriteString("\n")
	}

	p.WriteString("Result To Review:\n")
	if result.Code != "" {
		fmt.Fprintf(&p, "```\n%s\n```\n", result.Code)
	}
	for _, path := range sortedPaths(result.Files) {
		fmt.Fprintf(&p, "FILE: %s\n```\n%s\n```\n", path, result.Files[path])
	}
	if result.Explanation != "" {
		fmt.Fprintf(&p, "%s\n", result.Explanation)
	}

	p.WriteString(`
Respond in EXACTLY this format:
QUALITY_SCORE: <number between 0 and 1>
ISSUES:
- [error|warning|suggestion] <description>
SUGGESTIONS:
- <suggestion>
IMPROVED_CODE:
<optional corrected code in a fenced block>
DECISION: APPROVE or REJECT`)

	return p.String()
}

// reflectionPrompt summarises a finished run for retrospection
func reflectionPrompt(in ReflectionInput) string {
	var p strings.Builder

	fmt.Fprintf(&p, "Request: %s\n", in.Context.Prompt)
	if in.Analysis != nil {
		fmt.Fprintf(&p, "Intent: %s (complexity %s)\n", in.Analysis.Primary, in.Analysis.Complexity)
	}
	if in.Plan != nil {
		fmt.Fprintf(&p, "Plan: %s with %d steps\n", in.Plan.Title, len(in.Plan.Steps))
	}
	if in.Result != nil {
		fmt.Fprintf(&p, "Result: %s\n", truncate(in.Result.Text(), 1500))
		if in.Result.Failed {
			fmt.Fprintf(&p, "Execution failed: %s\n", in.Result.Error)
		}
	}
	if in.Review != nil {
		fmt.Fprintf(&p, "Review score: %.2f, rejected: %t\n", in.Review.QualityScore, in.Review.Rejected)
		for _, issue := range in.Review.Issues {
			fmt.Fprintf(&p, "- [%s] %s\n", issue.Severity, issue.Description)
		}
	}
	if md := in.Workflow; md != nil {
		fmt.Fprintf(&p, "Attempts: %d executions, %d revisions, final state %s\n",
			md.Metadata.ExecutionAttempts, md.Metadata.RevisionAttempts, md.Metadata.FinalState)
	}

	p.WriteString(`
Respond in EXACTLY this format, one item per bullet:
WHAT_WORKED:
- <item>
WHAT_FAILED:
- <item>
SHOULD_IMPROVE:
- <item>
LESSONS:
- <item>
CONFIDENCE: <number between 0 and 1>`)

	return p.String()
}

// sortedPaths keeps prompts stable across map iteration orders
func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
