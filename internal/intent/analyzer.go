// Package intent classifies normalized input into a primary intent with
// confidence, secondary intents, context flags and extracted requirements.
//
// Classification is rule based and ordered (see Rules).
package intent

import (
	"strings"

	"github.com/quantumflow/nevra/internal/models"
)

const (
	baseConfidence    = 0.5
	defaultConfidence = 0.4
	perHitBonus       = 0.1
	maxHitBonus       = 0.3
	followUpMaxWords  = 6
)

// Analyze classifies in using the conversation history for follow-up
// detection. A non-empty frameworkHint overrides framework detection.
func Analyze(in *models.NormalizedInput, history []models.Message, frameworkHint string) *models.IntentAnalysis {
	if in == nil {
		in = &models.NormalizedInput{}
	}

	// Rules run against the prose plus the raw text so that error
	// messages pasted outside fences still count.
	p := padded(in.Normalized)
	raw := strings.ToLower(in.Cleaned)

	flags := models.ContextFlags{
		HasCode:    len(in.CodeBlocks) > 0 || hasInlineCode(in.Cleaned),
		HasImages:  in.ImageCount > 0,
		HasErrors:  hasErrorSignal(raw),
		IsFollowUp: isFollowUp(p, in.WordCount, history),
	}

	primary, hits, secondary := classify(p, in.Normalized)

	reqs := models.Requirements{
		Framework:  strings.ToLower(strings.TrimSpace(frameworkHint)),
		Components: matchNamed(p, components),
		Features:   matchNamed(p, features),
		Style:      firstNamed(p, styles),
	}
	if reqs.Framework == "" {
		reqs.Framework = firstNamed(p, frameworks)
	}

	analysis := &models.IntentAnalysis{
		Primary:      primary,
		Secondary:    secondary,
		Context:      flags,
		Requirements: reqs,
	}
	analysis.Confidence = confidence(primary, hits, p, flags)
	analysis.Complexity = EstimateComplexity(in, reqs)

	return analysis
}

// classify applies the ordered rules. It returns the winning intent, the
// number of indicator hits for it and every other matching intent in rule
// order.
func classify(p, normalized string) (models.Intent, int, []models.Intent) {
	primary := models.IntentCodeGeneration
	primaryHits := 0
	var secondary []models.Intent

	for _, rule := range Rules {
		hits := ruleHits(rule, p, normalized)
		if hits == 0 {
			continue
		}
		if primaryHits == 0 {
			primary = rule.Intent
			primaryHits = hits
			continue
		}
		secondary = append(secondary, rule.Intent)
	}

	if primaryHits > 0 && containsAny(p, creationKeywords) {
		secondary = append(secondary, models.IntentCodeGeneration)
	}

	return primary, primaryHits, secondary
}

func ruleHits(rule Rule, p, normalized string) int {
	hits := countPhrases(p, rule.Keywords)
	for _, re := range rule.Patterns {
		if re.MatchString(normalized) {
			hits++
		}
	}
	return hits
}

func confidence(primary models.Intent, hits int, p string, flags models.ContextFlags) float64 {
	var c float64
	if hits == 0 {
		c = defaultConfidence
		if containsAny(p, creationKeywords) {
			c += 0.2
		}
	} else {
		c = baseConfidence
		bonus := float64(hits-1) * perHitBonus
		if bonus > maxHitBonus {
			bonus = maxHitBonus
		}
		c += bonus
	}

	switch primary {
	case models.IntentDebug:
		if flags.HasErrors {
			c += 0.1
		}
		if flags.HasCode {
			c += 0.1
		}
	case models.IntentRefactor, models.IntentTest, models.IntentEdit:
		if flags.HasCode {
			c += 0.1
		}
		if primary == models.IntentEdit && flags.IsFollowUp {
			c += 0.05
		}
	case models.IntentCodeGeneration:
		if flags.HasImages {
			c += 0.05
		}
	}

	return clamp01(c)
}

// EstimateComplexity is the analyzer's own size estimate, based on prose
// length, code volume and requested breadth. The decision engine derives
// its complexity separately.
func EstimateComplexity(in *models.NormalizedInput, reqs models.Requirements) models.Complexity {
	breadth := reqs.Breadth()
	switch {
	case breadth >= 4 || in.WordCount > 80 || len(in.CodeBlocks) > 1:
		return models.ComplexityComplex
	case breadth <= 1 && in.WordCount < 20 && len(in.CodeBlocks) == 0:
		return models.ComplexitySimple
	default:
		return models.ComplexityMedium
	}
}

// KeywordHits counts indicator hits per intent in free text.
func KeywordHits(text string) map[models.Intent]int {
	p := padded(text)
	lower := strings.ToLower(text)
	out := make(map[models.Intent]int)
	for _, rule := range Rules {
		if hits := ruleHits(rule, p, lower); hits > 0 {
			out[rule.Intent] = hits
		}
	}
	return out
}

// ClassifyText returns the primary intent of free text.
func ClassifyText(text string) models.Intent {
	primary, _, _ := classify(padded(text), strings.ToLower(text))
	return primary
}

// DetectFramework returns the first framework mentioned in text, or "".
func DetectFramework(text string) string {
	return firstNamed(padded(text), frameworks)
}

// DetectStyle returns the first style mentioned in text, or "".
func DetectStyle(text string) string {
	return firstNamed(padded(text), styles)
}

// DetectComponents returns every UI component mentioned in text.
func DetectComponents(text string) []string {
	return matchNamed(padded(text), components)
}

// DetectFeatures returns every feature mentioned in text.
func DetectFeatures(text string) []string {
	return matchNamed(padded(text), features)
}

func firstNamed(p string, table []namedPattern) string {
	for _, entry := range table {
		if containsAny(p, entry.keywords) {
			return entry.name
		}
	}
	return ""
}

func hasInlineCode(text string) bool {
	for _, re := range inlineCodeSignals {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func hasErrorSignal(text string) bool {
	for _, re := range errorSignals {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// isFollowUp requires a previous assistant turn and either an explicit
// continuation marker or a very short message.
func isFollowUp(p string, wordCount int, history []models.Message) bool {
	hasAssistant := false
	for _, m := range history {
		if m.Role == models.RoleAssistant {
			hasAssistant = true
			break
		}
	}
	if !hasAssistant {
		return false
	}
	return containsAny(p, followUpMarkers) || wordCount <= followUpMaxWords
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
