package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/models"
)

const (
	// MinQualityScore is the hard floor below which a review always rejects
	MinQualityScore = 0.6

	// DefaultReviewScore is used when no score can be parsed. Must stay
	// between MinQualityScore and the default quality threshold.
	DefaultReviewScore = 0.65
)

var (
	scorePattern   = regexp.MustCompile(`(?im)^\s*(?:\*\*)?(?:quality[_ ]score|score|rating)(?:\*\*)?\s*[:=]\s*(?:\*\*)?\s*([0-9]+(?:\.[0-9]+)?)\s*(%|/\s*100|/\s*10)?`)
	sectionPattern = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?(quality[_ ]score|issues|suggestions|improved[_ ]code|decision|verdict)(?:\*\*)?\s*:?(.*)$`)
	bulletPattern  = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(?:\[(\w+)\]\s*)?(.+)$`)
	verdictPattern = regexp.MustCompile(`(?i)^[\s*]*(approve[sd]?|accept(?:ed|s)?|reject(?:ed|s)?)\b`)
	bareReject     = regexp.MustCompile(`(?m)^\s*REJECT(?:ED)?\s*$`)
)

// Reviewer critiques execution results
type Reviewer struct {
	base
}

// Review critiques result. Only backend failures are returned as errors;
// unparseable output degrades to default values.
func (r *Reviewer) Review(ctx context.Context, wc *models.WorkflowContext, result *models.ExecutionResult, plan *models.EnhancedPlan) (*models.ReviewResult, error) {
	if result == nil {
		return nil, errors.New("nothing to review")
	}

	completion, err := r.complete(ctx, wc, reviewPrompt(wc, result, plan), false)
	if err != nil {
		return nil, fmt.Errorf("review failed: %w", err)
	}

	review, err := ParseReview(completion.Content)
	if err != nil {
		r.logger.Warn(ctx, "review output degraded to defaults", zap.Error(err))
	}
	return review, nil
}

// ParseReview extracts score, issues, suggestions, improved code and the
// rejection signal from a free-text critique. It always returns a review;
// the error is a *ParseError when the score had to be defaulted. Scores
// below MinQualityScore force rejection.
func ParseReview(text string) (*models.ReviewResult, error) {
	review := &models.ReviewResult{Raw: text}

	var parseErr error
	if score, ok := parseScore(text); ok {
		review.QualityScore = score
	} else {
		review.QualityScore = DefaultReviewScore
		review.ParseDegraded = true
		parseErr = &ParseError{Role: models.RoleReviewer, Reason: "no quality score found", Raw: text}
	}

	section := ""
	var improved []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if section == "improved_code" {
			if strings.HasPrefix(trimmed, "```") {
				if inFence {
					section = ""
					inFence = false
				} else {
					inFence = true
				}
				continue
			}
			if inFence {
				improved = append(improved, line)
				continue
			}
		}

		if m := sectionPattern.FindStringSubmatch(line); m != nil && !bulletPattern.MatchString(line) {
			section = strings.ReplaceAll(strings.ToLower(m[1]), " ", "_")
			rest := strings.TrimSpace(m[2])
			if section == "decision" || section == "verdict" {
				if v := verdictPattern.FindStringSubmatch(rest); v != nil && strings.HasPrefix(strings.ToLower(v[1]), "reject") {
					review.Rejected = true
				}
			}
			continue
		}

		b := bulletPattern.FindStringSubmatch(line)
		if b == nil {
			continue
		}
		desc := strings.TrimSpace(b[2])
		if isNone(desc) {
			continue
		}

		switch section {
		case "issues":
			review.Issues = append(review.Issues, models.ReviewIssue{
				Severity:    severity(b[1]),
				Description: desc,
			})
		case "suggestions":
			review.Suggestions = append(review.Suggestions, desc)
		}
	}

	if len(improved) > 0 {
		review.ImprovedCode = strings.Join(improved, "\n")
	}
	if bareReject.MatchString(text) {
		review.Rejected = true
	}

	switch {
	case review.QualityScore < MinQualityScore:
		review.Rejected = true
		review.RejectReason = fmt.Sprintf("quality score %.2f is below the minimum of %.2f", review.QualityScore, MinQualityScore)
	case review.Rejected:
		review.RejectReason = "reviewer rejected the result"
	}

	return review, parseErr
}

// parseScore reads the first score line, accepting 0-1, x/10, x/100 and
// percentages.
func parseScore(text string) (float64, bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	scale := strings.ReplaceAll(m[2], " ", "")
	switch {
	case scale == "%" || scale == "/100":
		v /= 100
	case scale == "/10":
		v /= 10
	case v > 10:
		v /= 100
	case v > 1:
		v /= 10
	}
	return clamp01(v), true
}

func severity(tag string) models.Severity {
	switch strings.ToLower(tag) {
	case "error", "critical", "major", "high", "blocker":
		return models.SeverityError
	case "suggestion", "minor", "low", "info", "nit":
		return models.SeveritySuggestion
	default:
		return models.SeverityWarning
	}
}

func isNone(s string) bool {
	switch strings.ToLower(strings.Trim(s, " .")) {
	case "none", "n/a", "no issues", "tidak ada":
		return true
	}
	return false
}
