package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/normalize"
)

func complexAnalysis(in models.Intent) *models.IntentAnalysis {
	return &models.IntentAnalysis{
		Primary: in,
		Requirements: models.Requirements{
			Components: []string{"navbar", "sidebar", "table"},
			Features:   []string{"authentication", "dark_mode"},
		},
	}
}

func simpleAnalysis(in models.Intent) *models.IntentAnalysis {
	return &models.IntentAnalysis{Primary: in}
}

func mediumAnalysis(in models.Intent) *models.IntentAnalysis {
	return &models.IntentAnalysis{
		Primary:      in,
		Requirements: models.Requirements{Components: []string{"navbar", "footer"}},
	}
}

func TestClassifyWorkflowComplexity(t *testing.T) {
	assert.Equal(t, models.ComplexitySimple, ClassifyWorkflowComplexity(nil))
	assert.Equal(t, models.ComplexitySimple, ClassifyWorkflowComplexity(simpleAnalysis(models.IntentQuestion)))
	assert.Equal(t, models.ComplexityMedium, ClassifyWorkflowComplexity(mediumAnalysis(models.IntentEdit)))
	assert.Equal(t, models.ComplexityComplex, ClassifyWorkflowComplexity(complexAnalysis(models.IntentCodeGeneration)))

	flags := &models.IntentAnalysis{
		Requirements: models.Requirements{Components: []string{"form"}},
		Context:      models.ContextFlags{HasCode: true, HasErrors: true, HasImages: true},
	}
	assert.Equal(t, models.ComplexityComplex, ClassifyWorkflowComplexity(flags))
}

func TestMakeDecision_BuilderComplexKeepsPlanner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipPlannerForSimple = true
	e := NewEngine(cfg)

	d := e.MakeDecision(Request{Analysis: complexAnalysis(models.IntentCodeGeneration), Mode: models.ModeBuilder})

	assert.Equal(t, models.ComplexityComplex, d.Complexity)
	assert.False(t, d.Skips(models.RolePlanner))
	assert.False(t, d.Skips(models.RoleReviewer))
	assert.Equal(t, models.PriorityHigh, d.Priority)
}

func TestMakeDecision_TutorQuestion(t *testing.T) {
	e := NewEngine(nil)

	d := e.MakeDecision(Request{Analysis: mediumAnalysis(models.IntentQuestion), Mode: models.ModeTutor})
	assert.Equal(t, models.ComplexityMedium, d.Complexity)
	assert.True(t, d.Skips(models.RolePlanner))
	assert.False(t, d.Skips(models.RoleReviewer))

	d = e.MakeDecision(Request{Analysis: simpleAnalysis(models.IntentQuestion), Mode: models.ModeTutor})
	assert.True(t, d.Skips(models.RolePlanner))
	assert.False(t, d.Skips(models.RoleReviewer), "tutor mode never skips the reviewer")
	assert.Equal(t, models.PriorityLow, d.Priority)
}

func TestMakeDecision_SimpleBuilder(t *testing.T) {
	e := NewEngine(nil)

	d := e.MakeDecision(Request{Analysis: simpleAnalysis(models.IntentCodeGeneration), Mode: models.ModeBuilder})
	assert.True(t, d.Skips(models.RolePlanner))
	assert.True(t, d.Skips(models.RoleReviewer))

	cfg := DefaultConfig()
	cfg.ForceReview = true
	d = NewEngine(cfg).MakeDecision(Request{Analysis: simpleAnalysis(models.IntentCodeGeneration), Mode: models.ModeBuilder})
	assert.False(t, d.Skips(models.RoleReviewer))
}

func TestMakeDecision_MediumBuilderRunsEverything(t *testing.T) {
	d := NewEngine(nil).MakeDecision(Request{Analysis: mediumAnalysis(models.IntentEdit), Mode: models.ModeBuilder})
	assert.False(t, d.Skips(models.RolePlanner))
	assert.False(t, d.Skips(models.RoleReviewer))
	assert.False(t, d.Skips(models.RoleReflection))
	assert.Equal(t, models.PriorityNormal, d.Priority)
}

func TestMakeDecision_DisabledStages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnablePlanner = false
	cfg.EnableReviewer = false
	cfg.EnableReflection = false

	d := NewEngine(cfg).MakeDecision(Request{Analysis: complexAnalysis(models.IntentCodeGeneration), Mode: models.ModeBuilder})
	assert.True(t, d.Skips(models.RolePlanner))
	assert.True(t, d.Skips(models.RoleReviewer))
	assert.True(t, d.Skips(models.RoleReflection))
}

func TestMakeDecision_ThresholdAndBudgets(t *testing.T) {
	e := NewEngine(nil)
	detailed := &models.UserProfile{Behavior: models.Behavior{DetailLevel: models.DetailHigh}}

	tests := []struct {
		name          string
		analysis      *models.IntentAnalysis
		profile       *models.UserProfile
		wantThreshold float64
		wantRetries   int
		wantRevisions int
	}{
		{"simple", simpleAnalysis(models.IntentCodeGeneration), nil, 0.6, 1, 1},
		{"medium", mediumAnalysis(models.IntentCodeGeneration), nil, 0.7, 2, 2},
		{"complex", complexAnalysis(models.IntentCodeGeneration), nil, 0.8, 3, 3},
		{"complex and detailed", complexAnalysis(models.IntentCodeGeneration), detailed, 0.85, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.MakeDecision(Request{Analysis: tt.analysis, Profile: tt.profile, Mode: models.ModeBuilder})
			assert.InDelta(t, tt.wantThreshold, d.QualityThreshold, 1e-9)
			assert.Equal(t, tt.wantRetries, d.MaxRetries)
			assert.Equal(t, tt.wantRevisions, d.MaxRevisions)
		})
	}
}

func TestMakeDecision_ThresholdClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityThreshold = 0.95
	d := NewEngine(cfg).MakeDecision(Request{Analysis: complexAnalysis(models.IntentCodeGeneration), Mode: models.ModeBuilder})
	assert.InDelta(t, 0.9, d.QualityThreshold, 1e-9)

	cfg.QualityThreshold = 0.3
	d = NewEngine(cfg).MakeDecision(Request{Analysis: simpleAnalysis(models.IntentCodeGeneration), Mode: models.ModeBuilder})
	assert.InDelta(t, 0.5, d.QualityThreshold, 1e-9)
}

func TestMakeDecision_Routing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.Providers = map[string]string{"gemini": "gemini-pro"}
	e := NewEngine(cfg)

	d := e.MakeDecision(Request{Analysis: mediumAnalysis(models.IntentEdit), Mode: models.ModeBuilder, Provider: "Gemini"})
	assert.Equal(t, "gemini-pro", d.Routing.Executor)
	assert.Equal(t, "gpt-4o", d.Routing.Planner)

	d = e.MakeDecision(Request{Analysis: mediumAnalysis(models.IntentEdit), Mode: models.ModeBuilder, Provider: "unknown"})
	assert.Equal(t, "claude-sonnet", d.Routing.Executor)
	assert.Equal(t, "claude-sonnet", d.Routing.ModelFor(models.RoleExecutor))
}

func TestMakeDecision_SimpleRequestHeuristic(t *testing.T) {
	e := NewEngine(nil)
	in := normalize.Normalize("hello, can you show a navbar and footer", nil)

	d := e.MakeDecision(Request{Analysis: mediumAnalysis(models.IntentQuestion), Mode: models.ModeBuilder, Input: in})
	assert.Equal(t, models.ComplexitySimple, d.Complexity)

	in = normalize.Normalize("show a navbar and footer", nil)
	d = e.MakeDecision(Request{Analysis: mediumAnalysis(models.IntentQuestion), Mode: models.ModeBuilder, Input: in})
	assert.Equal(t, models.ComplexityMedium, d.Complexity)
}

func TestMakeDecision_NilAnalysis(t *testing.T) {
	d := NewEngine(nil).MakeDecision(Request{Mode: models.ModeBuilder})
	require.NotNil(t, d)
	assert.Equal(t, models.ComplexitySimple, d.Complexity)
}
