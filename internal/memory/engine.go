package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

// Relevance weights
const (
	weightIntent     = 0.5
	weightFramework  = 0.3
	weightComponents = 0.2
	weightQuality    = 0.2
	weightRecency    = 0.1

	recencyHalfLife = 30 * 24 * time.Hour
)

// Config holds memory engine tunables
type Config struct {
	// RetrievalLimit is the number of memories returned by Retrieve
	RetrievalLimit int

	// CandidateLimit is the number of recent records ranked per retrieval
	CandidateLimit int

	// MaxResultChars truncates stored results
	MaxResultChars int
}

// DefaultConfig returns the default memory engine configuration
func DefaultConfig() *Config {
	return &Config{
		RetrievalLimit: 5,
		CandidateLimit: 50,
		MaxResultChars: 4000,
	}
}

// Engine ranks and persists interaction records
type Engine struct {
	store     Store
	knowledge KnowledgeStore
	config    *Config
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine creates a memory engine. Nil stores degrade to no-ops.
func NewEngine(store Store, knowledge KnowledgeStore, config *Config, logger *logging.Logger) *Engine {
	if store == nil {
		store = NopStore{}
	}
	if knowledge == nil {
		knowledge = NopKnowledgeStore{}
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:     store,
		knowledge: knowledge,
		config:    config,
		logger:    logger.Named("memory"),
		now:       time.Now,
	}
}

// Retrieve ranks the user's recent records against analysis and returns the
// most relevant ones, best first
func (e *Engine) Retrieve(ctx context.Context, userID string, analysis *models.IntentAnalysis) ([]models.ScoredMemory, error) {
	candidates, err := e.store.ListMemories(ctx, userID, e.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}

	scored := Rank(candidates, analysis, e.now())
	if limit := e.config.RetrievalLimit; limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	e.logger.Debug(ctx, "memories retrieved",
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(scored)))

	return scored, nil
}

// Rank scores every entry and sorts by relevance, descending. Equal scores
// keep their input order.
func Rank(entries []*models.MemoryEntry, analysis *models.IntentAnalysis, now time.Time) []models.ScoredMemory {
	scored := make([]models.ScoredMemory, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		scored = append(scored, models.ScoredMemory{
			Entry: entry,
			Score: Relevance(entry, analysis, now),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Relevance is the weighted relevance of entry to the current request,
// clamped to [0,1]
func Relevance(entry *models.MemoryEntry, analysis *models.IntentAnalysis, now time.Time) float64 {
	score := 0.0

	if analysis != nil {
		if entry.Intent == analysis.Primary {
			score += weightIntent
		}
		fw := analysis.Requirements.Framework
		if fw != "" && strings.EqualFold(entry.Framework, fw) {
			score += weightFramework
		}
		score += weightComponents * componentOverlap(entry.Components, analysis.Requirements.Components)
	}

	score += weightQuality * clamp01(entry.QualityScore)
	score += weightRecency * recency(entry.CreatedAt, now)

	return clamp01(score)
}

// componentOverlap is the share of wanted components present in have
func componentOverlap(have, wanted []string) float64 {
	if len(wanted) == 0 || len(have) == 0 {
		return 0
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = true
	}
	matched := 0
	for _, c := range wanted {
		if set[strings.ToLower(c)] {
			matched++
		}
	}
	return float64(matched) / float64(len(wanted))
}

// recency halves every 30 days
func recency(created, now time.Time) float64 {
	if created.IsZero() {
		return 0
	}
	age := now.Sub(created)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(recencyHalfLife))
}

// SaveResult records a finished workflow as a memory entry and a knowledge
// record. Both writes are attempted; their errors are joined.
func (e *Engine) SaveResult(ctx context.Context, wc *models.WorkflowContext, analysis *models.IntentAnalysis, result *models.WorkflowResult) error {
	if wc == nil || result == nil {
		return errors.New("nothing to save")
	}

	entry := &models.MemoryEntry{
		ID:        uuid.NewString(),
		UserID:    wc.UserID,
		SessionID: wc.SessionID,
		Prompt:    wc.Prompt,
		Result:    truncate(resultText(result), e.config.MaxResultChars),
		Intent:    result.Metadata.Intent,
		Mode:      wc.Mode,
		CreatedAt: e.now(),
	}
	if analysis != nil {
		entry.Intent = analysis.Primary
		entry.Framework = analysis.Requirements.Framework
		entry.Components = analysis.Requirements.Components
	}
	if q := result.Metadata.QualityScore; q != nil {
		entry.QualityScore = *q
	}

	var errs []error
	if err := e.store.SaveMemory(ctx, entry); err != nil {
		errs = append(errs, fmt.Errorf("failed to save memory: %w", err))
	}

	record := &models.KnowledgeRecord{
		ID:           entry.ID,
		UserID:       entry.UserID,
		Intent:       entry.Intent,
		Framework:    entry.Framework,
		Components:   entry.Components,
		Summary:      truncate(entry.Prompt, 280),
		QualityScore: entry.QualityScore,
		CreatedAt:    entry.CreatedAt,
	}
	if err := e.knowledge.SaveKnowledge(ctx, record); err != nil {
		errs = append(errs, fmt.Errorf("failed to save knowledge record: %w", err))
	}

	return errors.Join(errs...)
}

// FormatMemories renders retrieved memories for a prompt
func FormatMemories(scored []models.ScoredMemory) string {
	var b strings.Builder
	for _, s := range scored {
		if s.Entry == nil {
			continue
		}
		fmt.Fprintf(&b, "- [%s, quality %.2f] %s\n", s.Entry.Intent, s.Entry.QualityScore, oneLine(truncate(s.Entry.Prompt, 160)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func resultText(r *models.WorkflowResult) string {
	if r.Code != "" {
		return r.Code
	}
	return r.Response
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

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
