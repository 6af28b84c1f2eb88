package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/nevra/internal/models"
	"github.com/quantumflow/nevra/internal/normalize"
)

func analyze(text string, history []models.Message, hint string) *models.IntentAnalysis {
	return Analyze(normalize.Normalize(text, nil), history, hint)
}

func TestAnalyze_RuleOrder(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Intent
	}{
		{"greeting is a question", "hi", models.IntentQuestion},
		{"debug beats refactor", "I get an error when I refactor this function", models.IntentDebug},
		{"debug beats test", "my jest test crashes with an exception", models.IntentDebug},
		{"test", "write unit tests for my login form", models.IntentTest},
		{"refactor", "refactor this component so it is easier to read", models.IntentRefactor},
		{"question mark", "should the api live in its own package?", models.IntentQuestion},
		{"explanation", "explain closures in javascript", models.IntentExplanation},
		{"edit", "change the button color to blue", models.IntentEdit},
		{"default", "build a responsive navbar with react", models.IntentCodeGeneration},
		{"indonesian debug", "tolong perbaiki kode ini, tidak jalan", models.IntentDebug},
		{"indonesian explanation", "jelaskan konsep closure", models.IntentExplanation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyze(tt.text, nil, "")
			assert.Equal(t, tt.want, got.Primary)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestAnalyze_SecondaryIntents(t *testing.T) {
	got := analyze("I get an error when I refactor this function", nil, "")

	assert.Equal(t, models.IntentDebug, got.Primary)
	assert.Contains(t, got.Secondary, models.IntentRefactor)
	assert.NotContains(t, got.Secondary, models.IntentDebug)
}

func TestAnalyze_Requirements(t *testing.T) {
	got := analyze("Build a responsive navbar and footer with React and Tailwind, add dark mode", nil, "")

	assert.Equal(t, "react", got.Requirements.Framework)
	assert.Equal(t, "tailwind", got.Requirements.Style)
	assert.Equal(t, []string{"navbar", "footer"}, got.Requirements.Components)
	assert.Contains(t, got.Requirements.Features, "responsive")
	assert.Contains(t, got.Requirements.Features, "dark_mode")
}

func TestAnalyze_FrameworkHintWins(t *testing.T) {
	got := analyze("build a todo app with react", nil, " Vue ")
	assert.Equal(t, "vue", got.Requirements.Framework)
}

func TestDetectFramework_SpecificFirst(t *testing.T) {
	assert.Equal(t, "nextjs", DetectFramework("create a Next.js blog"))
	assert.Equal(t, "nuxt", DetectFramework("a nuxt app using vue components"))
	assert.Equal(t, "", DetectFramework("a plain page"))
}

func TestAnalyze_ContextFlags(t *testing.T) {
	t.Run("code and errors", func(t *testing.T) {
		in := normalize.Normalize("Why?\n```js\nfoo.bar()\n```\nTypeError: cannot read properties of undefined", []string{"img"})
		got := Analyze(in, nil, "")

		assert.True(t, got.Context.HasCode)
		assert.True(t, got.Context.HasErrors)
		assert.True(t, got.Context.HasImages)
		assert.False(t, got.Context.IsFollowUp)
	})

	t.Run("inline code", func(t *testing.T) {
		got := analyze("what does `useEffect` return", nil, "")
		assert.True(t, got.Context.HasCode)
	})

	t.Run("follow up needs an assistant turn", func(t *testing.T) {
		history := []models.Message{
			{Role: models.RoleUser, Content: "build a navbar"},
			{Role: models.RoleAssistant, Content: "here it is"},
		}
		assert.True(t, analyze("make it blue", history, "").Context.IsFollowUp)
		assert.True(t, analyze("now also add a search bar to the navbar on the right side please", history, "").Context.IsFollowUp)
		assert.False(t, analyze("make it blue", history[:1], "").Context.IsFollowUp)
		assert.False(t, analyze("build a complete dashboard with charts tables and a sidebar for admins", history, "").Context.IsFollowUp)
	})
}

func TestAnalyze_Confidence(t *testing.T) {
	plain := analyze("build a navbar", nil, "")
	assert.InDelta(t, 0.6, plain.Confidence, 1e-9)

	vague := analyze("navbar", nil, "")
	assert.InDelta(t, 0.4, vague.Confidence, 1e-9)

	strong := analyze("fix this error, the app crashes with an exception\n```js\nthrow new Error('x')\n```", nil, "")
	assert.Equal(t, models.IntentDebug, strong.Primary)
	assert.Greater(t, strong.Confidence, 0.8)
	assert.LessOrEqual(t, strong.Confidence, 1.0)
}

func TestEstimateComplexity(t *testing.T) {
	assert.Equal(t, models.ComplexitySimple, analyze("hi", nil, "").Complexity)
	assert.Equal(t, models.ComplexityMedium, analyze("build a navbar and a footer with react", nil, "").Complexity)
	assert.Equal(t, models.ComplexityComplex,
		analyze("build a dashboard with sidebar, navbar, charts, table, authentication and dark mode", nil, "").Complexity)
}

func TestKeywordHits(t *testing.T) {
	hits := KeywordHits("please fix the bug and add tests")
	require.NotEmpty(t, hits)
	assert.Equal(t, 2, hits[models.IntentDebug])
	assert.Equal(t, 1, hits[models.IntentTest])
	assert.Zero(t, hits[models.IntentRefactor])

	assert.Equal(t, models.IntentDebug, ClassifyText("please fix the bug and add tests"))
	assert.Equal(t, models.IntentCodeGeneration, ClassifyText("landing page"))
}
