package decision

import (
	"fmt"

	"github.com/quantumflow/nevra/internal/models"
)

// breadth above which a request needs a margin over the threshold
const wideRequestBreadth = 3

const wideRequestMargin = 0.1

// MakeReviewDecision gates a review against threshold. A nil review is
// accepted as is.
func MakeReviewDecision(
	review *models.ReviewResult,
	result *models.ExecutionResult,
	analysis *models.IntentAnalysis,
	profile *models.UserProfile,
	threshold float64,
) *models.ReviewDecision {
	if review == nil {
		return &models.ReviewDecision{
			Approved:   true,
			NextAction: models.ActionAccept,
			Confidence: 0.5,
			Reasons:    []string{"no review available"},
		}
	}

	d := &models.ReviewDecision{Rejected: review.Rejected}
	score := review.QualityScore

	breadth := 0
	if analysis != nil {
		breadth = analysis.Requirements.Breadth()
	}

	if review.Rejected {
		d.NeedsRevision = true
		msg := "reviewer rejected the result"
		if review.RejectReason != "" {
			msg += ": " + review.RejectReason
		}
		d.Reasons = append(d.Reasons, msg)
	}
	if score < threshold {
		d.NeedsRevision = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("quality %.2f below threshold %.2f", score, threshold))
	}
	if review.HasErrors() {
		d.NeedsRevision = true
		d.Reasons = append(d.Reasons, "review reported error-severity issues")
	}
	if breadth > wideRequestBreadth && score < threshold+wideRequestMargin {
		d.NeedsRevision = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("wide request (%d requirements) needs quality %.2f", breadth, threshold+wideRequestMargin))
	}
	if result != nil && !result.HasOutput() {
		d.Reasons = append(d.Reasons, "execution produced no output")
	}

	d.Approved = !d.Rejected && !d.NeedsRevision && score >= threshold

	switch {
	case d.Rejected:
		d.NextAction = models.ActionReject
	case d.NeedsRevision:
		d.NextAction = models.ActionRevise
	default:
		d.NextAction = models.ActionAccept
	}

	d.Confidence = reviewConfidence(review, threshold)
	d.Recommendations = recommendations(review, profile)

	return d
}

// reviewConfidence grows with the distance between score and threshold and
// drops when the review could not be parsed.
func reviewConfidence(review *models.ReviewResult, threshold float64) float64 {
	dist := review.QualityScore - threshold
	if dist < 0 {
		dist = -dist
	}
	c := 0.5 + dist
	if review.ParseDegraded {
		c -= 0.2
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func recommendations(review *models.ReviewResult, profile *models.UserProfile) []string {
	var out []string
	for _, issue := range review.Issues {
		if issue.Severity == models.SeverityError {
			out = append(out, "fix: "+issue.Description)
		}
	}
	out = append(out, review.Suggestions...)
	if profile != nil && profile.Behavior.PrefersExplanation {
		out = append(out, "explain the changes step by step")
	}
	return out
}
