// Package decision turns an intent analysis into a per-request workflow
// decision and judges reviewer output.
package decision

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/quantumflow/nevra/internal/models"
)

const (
	minThreshold = 0.5
	maxThreshold = 0.9

	complexityStep = 0.1
	detailBonus    = 0.05
)

// Config holds the decision tunables
type Config struct {
	EnablePlanner         bool
	EnableReviewer        bool
	EnableReflection      bool
	SkipPlannerForSimple  bool
	SkipReviewerForSimple bool
	ForceReview           bool

	QualityThreshold float64
	MaxRetries       int
	MaxRevisions     int

	// Requests no longer than SimpleMaxWords that contain one of
	// SimpleKeywords, with no code, errors or images, are always simple.
	SimpleMaxWords int
	SimpleKeywords []string

	Models ModelConfig
}

// ModelConfig holds the default model id per role
type ModelConfig struct {
	Planner    string
	Executor   string
	Reviewer   string
	Reflection string

	// Providers maps a provider hint to the executor model for it
	Providers map[string]string
}

// DefaultConfig returns the default decision configuration
func DefaultConfig() *Config {
	return &Config{
		EnablePlanner:         true,
		EnableReviewer:        true,
		EnableReflection:      true,
		SkipPlannerForSimple:  true,
		SkipReviewerForSimple: true,
		QualityThreshold:      0.7,
		MaxRetries:            2,
		MaxRevisions:          2,
		SimpleMaxWords:        12,
		SimpleKeywords:        []string{"hi", "hello", "halo", "thanks"},
		Models: ModelConfig{
			Planner:    "gpt-4o",
			Executor:   "claude-sonnet",
			Reviewer:   "gpt-4o",
			Reflection: "gpt-4o-mini",
		},
	}
}

// Request is the input of MakeDecision
type Request struct {
	Analysis *models.IntentAnalysis
	Profile  *models.UserProfile
	Mode     models.Mode
	Provider string

	// Input enables the simple-request heuristics when set
	Input *models.NormalizedInput
}

// Engine makes workflow decisions. It is stateless and safe for
// concurrent use.
type Engine struct {
	config *Config
}

// NewEngine creates a decision engine
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// MakeDecision applies the skip rules in order, then derives threshold,
// budgets, priority and model routing.
func (e *Engine) MakeDecision(req Request) *models.WorkflowDecision {
	analysis := req.Analysis
	if analysis == nil {
		analysis = &models.IntentAnalysis{Primary: models.IntentCodeGeneration}
	}
	cfg := e.config

	complexity := ClassifyWorkflowComplexity(analysis)
	if complexity != models.ComplexitySimple && e.isSimpleRequest(req.Input, analysis) {
		complexity = models.ComplexitySimple
	}

	d := &models.WorkflowDecision{
		Routing:    e.route(req.Provider),
		SkipStages: make(map[models.Role]bool),
		Complexity: complexity,
	}
	reason := func(format string, args ...interface{}) {
		d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
	}

	skipPlanner := false
	skipReviewer := false

	// (a)
	if complexity == models.ComplexitySimple && cfg.SkipPlannerForSimple {
		skipPlanner = true
		reason("skip planner: simple request")
	}

	// (b)
	tutorReviewLock := false
	if req.Mode == models.ModeTutor {
		if analysis.Primary == models.IntentQuestion || analysis.Primary == models.IntentExplanation {
			if !skipPlanner {
				reason("skip planner: tutor %s", analysis.Primary)
			}
			skipPlanner = true
		}
		tutorReviewLock = true
	}

	// (c)
	if req.Mode == models.ModeBuilder && complexity == models.ComplexityComplex && skipPlanner {
		skipPlanner = false
		reason("keep planner: complex builder request")
	}

	// (d)
	if req.Mode == models.ModeBuilder && complexity == models.ComplexitySimple && cfg.SkipReviewerForSimple {
		skipReviewer = true
		reason("skip reviewer: simple builder request")
	}

	// (e)
	if complexity == models.ComplexityComplex && skipReviewer {
		skipReviewer = false
		reason("keep reviewer: complex request")
	}

	if tutorReviewLock && skipReviewer {
		skipReviewer = false
	}
	if cfg.ForceReview && skipReviewer {
		skipReviewer = false
		reason("keep reviewer: review forced")
	}

	if !cfg.EnablePlanner {
		skipPlanner = true
		reason("skip planner: disabled")
	}
	if !cfg.EnableReviewer {
		skipReviewer = true
		reason("skip reviewer: disabled")
	}

	d.SkipStages[models.RolePlanner] = skipPlanner
	d.SkipStages[models.RoleReviewer] = skipReviewer
	d.SkipStages[models.RoleReflection] = !cfg.EnableReflection

	d.QualityThreshold = e.threshold(complexity, req.Profile)
	d.MaxRetries, d.MaxRevisions = e.budgets(complexity)
	d.Priority = priority(analysis.Primary, complexity)

	return d
}

// ClassifyWorkflowComplexity scores requirement breadth plus one point for
// each of code, errors and images: up to 1 is simple, up to 3 medium.
func ClassifyWorkflowComplexity(analysis *models.IntentAnalysis) models.Complexity {
	if analysis == nil {
		return models.ComplexitySimple
	}

	score := analysis.Requirements.Breadth()
	if analysis.Context.HasCode {
		score++
	}
	if analysis.Context.HasErrors {
		score++
	}
	if analysis.Context.HasImages {
		score++
	}

	switch {
	case score <= 1:
		return models.ComplexitySimple
	case score <= 3:
		return models.ComplexityMedium
	default:
		return models.ComplexityComplex
	}
}

func (e *Engine) isSimpleRequest(in *models.NormalizedInput, analysis *models.IntentAnalysis) bool {
	if in == nil || e.config.SimpleMaxWords <= 0 {
		return false
	}
	if analysis.Context.HasCode || analysis.Context.HasErrors || analysis.Context.HasImages {
		return false
	}
	if in.WordCount > e.config.SimpleMaxWords {
		return false
	}

	words := strings.FieldsFunc(in.Normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	text := " " + strings.Join(words, " ") + " "
	for _, kw := range e.config.SimpleKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, " "+kw+" ") {
			return true
		}
	}
	return false
}

func (e *Engine) threshold(c models.Complexity, profile *models.UserProfile) float64 {
	t := e.config.QualityThreshold
	switch c {
	case models.ComplexityComplex:
		t += complexityStep
	case models.ComplexitySimple:
		t -= complexityStep
	}
	if t < minThreshold {
		t = minThreshold
	}
	if t > maxThreshold {
		t = maxThreshold
	}
	if profile.FavorsDetail() {
		t += detailBonus
	}
	return t
}

func (e *Engine) budgets(c models.Complexity) (retries, revisions int) {
	retries, revisions = e.config.MaxRetries, e.config.MaxRevisions
	switch c {
	case models.ComplexityComplex:
		retries++
		revisions++
	case models.ComplexitySimple:
		retries = max(retries-1, 0)
		revisions = max(revisions-1, 0)
	}
	return retries, revisions
}

func (e *Engine) route(provider string) models.Routing {
	m := e.config.Models
	r := models.Routing{
		Planner:    m.Planner,
		Executor:   m.Executor,
		Reviewer:   m.Reviewer,
		Reflection: m.Reflection,
	}
	if provider != "" {
		if model, ok := m.Providers[strings.ToLower(provider)]; ok && model != "" {
			r.Executor = model
		}
	}
	return r
}

func priority(in models.Intent, c models.Complexity) models.Priority {
	switch {
	case in == models.IntentDebug || c == models.ComplexityComplex:
		return models.PriorityHigh
	case c == models.ComplexitySimple && (in == models.IntentQuestion || in == models.IntentExplanation):
		return models.PriorityLow
	default:
		return models.PriorityNormal
	}
}
