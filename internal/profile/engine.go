// Package profile derives a behavioural user profile from stored user data
// and the conversation history. Profiles are rebuilt on every request and
// never written back.
package profile

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/intent"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

// Preference keys honoured in StoredProfile.Preferences
const (
	PrefDetailLevel = "detail_level"
	PrefFramework   = "framework"
	PrefStyle       = "style"
	PrefPrefersCode = "prefers_code"
)

const maxCommonIntents = 3

// Engine builds user profiles
type Engine struct {
	store  Store
	logger *logging.Logger
}

// NewEngine creates a profile engine. store may be nil.
func NewEngine(store Store, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{store: store, logger: logger.Named("profile")}
}

// LoadProfile returns nil, nil for an empty user id: guests get no
// personalization. A failing store degrades to a history-only profile; only
// a cancelled context is an error.
func (e *Engine) LoadProfile(ctx context.Context, userID string, history []models.Message) (*models.UserProfile, error) {
	if userID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &models.UserProfile{
		UserID:      userID,
		Preferences: map[string]interface{}{},
	}

	if e.store != nil {
		stored, err := e.store.GetProfile(ctx, userID)
		if err != nil {
			e.logger.Warn(ctx, "failed to load stored profile, using history only", zap.Error(err))
		} else if stored != nil {
			p.Name = stored.Name
			p.Email = stored.Email
			for k, v := range stored.Preferences {
				p.Preferences[k] = v
			}
		}
	}

	p.History = AnalyzeHistory(history)
	if p.History.PreferredFramework == "" {
		p.History.PreferredFramework = stringPref(p.Preferences, PrefFramework)
	}
	if p.History.PreferredStyle == "" {
		p.History.PreferredStyle = stringPref(p.Preferences, PrefStyle)
	}
	p.Behavior = deriveBehavior(history, p.Preferences)

	return p, nil
}

// AnalyzeHistory derives intent, framework, style and complexity statistics
// from the user's messages.
func AnalyzeHistory(history []models.Message) models.HistoryStats {
	stats := models.HistoryStats{}

	intentCounts := make(map[models.Intent]int)
	frameworks := newPlurality()
	styles := newPlurality()
	complexitySum := 0

	for _, m := range history {
		if m.Role != models.RoleUser {
			continue
		}
		stats.MessageCount++

		for in, hits := range intent.KeywordHits(m.Content) {
			intentCounts[in] += hits
		}
		frameworks.add(intent.DetectFramework(m.Content))
		styles.add(intent.DetectStyle(m.Content))
		complexitySum += ComplexityBucket(len(strings.Fields(m.Content)))
	}

	stats.CommonIntents = topIntents(intentCounts, maxCommonIntents)
	stats.PreferredFramework = frameworks.winner()
	stats.PreferredStyle = styles.winner()
	if stats.MessageCount > 0 {
		stats.AverageComplexity = float64(complexitySum) / float64(stats.MessageCount)
	}

	return stats
}

// ComplexityBucket maps a word count to 1 (<10 words), 2 (<30) or 3.
func ComplexityBucket(words int) int {
	switch {
	case words < 10:
		return 1
	case words < 30:
		return 2
	default:
		return 3
	}
}

func deriveBehavior(history []models.Message, prefs map[string]interface{}) models.Behavior {
	b := models.Behavior{DetailLevel: models.DetailMedium}

	words, count := 0, 0
	codeVotes, explainVotes := 0, 0
	for _, m := range history {
		if m.Role != models.RoleUser {
			continue
		}
		count++
		words += len(strings.Fields(m.Content))

		switch intent.ClassifyText(m.Content) {
		case models.IntentQuestion, models.IntentExplanation:
			explainVotes++
		default:
			codeVotes++
		}
	}

	if count > 0 {
		avg := float64(words) / float64(count)
		switch {
		case avg > 40:
			b.DetailLevel = models.DetailHigh
		case avg < 8:
			b.DetailLevel = models.DetailLow
		}
	}
	b.PrefersCode = codeVotes > explainVotes
	b.PrefersExplanation = explainVotes > codeVotes

	switch level := stringPref(prefs, PrefDetailLevel); level {
	case models.DetailLow, models.DetailMedium, models.DetailHigh:
		b.DetailLevel = level
	}
	if v, ok := prefs[PrefPrefersCode].(bool); ok {
		b.PrefersCode = v
		b.PrefersExplanation = !v
	}

	return b
}

func topIntents(counts map[models.Intent]int, n int) []models.Intent {
	if len(counts) == 0 {
		return nil
	}

	order := make(map[models.Intent]int)
	for i, in := range models.AllIntents() {
		order[in] = i
	}

	intents := make([]models.Intent, 0, len(counts))
	for in := range counts {
		intents = append(intents, in)
	}
	sort.Slice(intents, func(i, j int) bool {
		if counts[intents[i]] != counts[intents[j]] {
			return counts[intents[i]] > counts[intents[j]]
		}
		return order[intents[i]] < order[intents[j]]
	})

	if len(intents) > n {
		intents = intents[:n]
	}
	return intents
}

func stringPref(prefs map[string]interface{}, key string) string {
	s, _ := prefs[key].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

// plurality counts values and breaks ties by first appearance
type plurality struct {
	counts map[string]int
	first  map[string]int
	seen   int
}

func newPlurality() *plurality {
	return &plurality{counts: map[string]int{}, first: map[string]int{}}
}

func (p *plurality) add(v string) {
	if v == "" {
		return
	}
	if _, ok := p.first[v]; !ok {
		p.first[v] = p.seen
		p.seen++
	}
	p.counts[v]++
}

func (p *plurality) winner() string {
	best := ""
	for v, c := range p.counts {
		if best == "" || c > p.counts[best] || (c == p.counts[best] && p.first[v] < p.first[best]) {
			best = v
		}
	}
	return best
}
