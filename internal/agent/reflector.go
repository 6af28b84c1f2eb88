package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/quantumflow/nevra/internal/models"
)

var (
	reflectionSection = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?(what[_ ]worked|what[_ ]failed|should[_ ]improve|lessons(?:[_ ]learned)?|confidence)(?:\*\*)?\s*:\s*(.*)$`)
	leadingNumber     = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)`)
)

// ReflectionInput is everything a retrospective looks at
type ReflectionInput struct {
	Context  *models.WorkflowContext
	Result   *models.ExecutionResult
	Review   *models.ReviewResult
	Plan     *models.EnhancedPlan
	Workflow *models.WorkflowResult
	Analysis *models.IntentAnalysis
}

// Reflector produces self-reflection records after a run
type Reflector struct {
	base
}

// Reflect asks the backend for a retrospective of the run
func (r *Reflector) Reflect(ctx context.Context, in ReflectionInput) (*models.SelfReflectionResult, error) {
	if in.Context == nil {
		return nil, errors.New("reflection requires a workflow context")
	}

	completion, err := r.complete(ctx, in.Context, reflectionPrompt(in), false)
	if err != nil {
		return nil, fmt.Errorf("reflection failed: %w", err)
	}

	return ParseReflection(completion.Content)
}

// ParseReflection reads the bulleted retrospective sections. Output with
// none of the sections is a *ParseError.
func ParseReflection(text string) (*models.SelfReflectionResult, error) {
	out := &models.SelfReflectionResult{Raw: text, Confidence: 0.5}

	section := ""
	found := false
	for _, line := range strings.Split(text, "\n") {
		if m := reflectionSection.FindStringSubmatch(line); m != nil && !bulletPattern.MatchString(line) {
			found = true
			section = strings.ReplaceAll(strings.ToLower(m[1]), " ", "_")
			rest := strings.TrimSpace(m[2])
			if section == "confidence" {
				if n := leadingNumber.FindString(rest); n != "" {
					if v, err := strconv.ParseFloat(n, 64); err == nil {
						if v > 1 {
							v /= 100
						}
						out.Confidence = clamp01(v)
					}
				}
				continue
			}
			// inline value on the header line
			if rest != "" && !isNone(rest) {
				addReflectionItem(out, section, rest)
			}
			continue
		}

		b := bulletPattern.FindStringSubmatch(line)
		if b == nil || section == "" {
			continue
		}
		item := strings.TrimSpace(b[2])
		if b[1] != "" {
			item = "[" + b[1] + "] " + item
		}
		if !isNone(item) {
			addReflectionItem(out, section, item)
		}
	}

	if !found {
		return nil, &ParseError{Role: models.RoleReflection, Reason: "no reflection sections found", Raw: text}
	}
	return out, nil
}

func addReflectionItem(out *models.SelfReflectionResult, section, item string) {
	switch section {
	case "what_worked":
		out.WhatWorked = append(out.WhatWorked, item)
	case "what_failed":
		out.WhatFailed = append(out.WhatFailed, item)
	case "should_improve":
		out.ShouldImprove = append(out.ShouldImprove, item)
	case "lessons", "lessons_learned":
		out.Lessons = append(out.Lessons, item)
	}
}
