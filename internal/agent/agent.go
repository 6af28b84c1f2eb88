// Package agent implements the planner, executor, reviewer and
// self-reflection roles on top of a shared backend completion primitive.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quantumflow/nevra/internal/inference"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

// ErrParse matches every *ParseError
var ErrParse = errors.New("unparseable agent output")

// ParseError reports agent output that could not be decoded into its
// structured form. Callers fall back to default values.
type ParseError struct {
	Role   models.Role
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s output: %s", e.Role, e.Reason)
}

// Is makes errors.Is(err, ErrParse) hold for any ParseError
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Agent is one role bound to one model
type Agent interface {
	Role() models.Role
	Model() string
}

// base binds a role and model to the completion primitive. It holds no
// per-request state, so one instance serves concurrent requests.
type base struct {
	role      models.Role
	model     string
	completer inference.Completer
	config    *Config
	logger    *logging.Logger
}

func newBase(role models.Role, model string, completer inference.Completer, config *Config, logger *logging.Logger) base {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return base{
		role:      role,
		model:     model,
		completer: completer,
		config:    config,
		logger:    logger.Named(string(role)),
	}
}

func (b *base) Role() models.Role { return b.role }
func (b *base) Model() string     { return b.model }

// complete sends prompt for wc with the role's system prompt
func (b *base) complete(ctx context.Context, wc *models.WorkflowContext, prompt string, withHistory bool) (*inference.Completion, error) {
	if b.completer == nil {
		return nil, errors.New("no backend configured")
	}

	req := &inference.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: b.systemPrompt(wc),
		Model:        b.model,
	}
	if wc != nil {
		req.Mode = wc.Mode
		req.Provider = wc.Provider
		if withHistory {
			req.History = wc.History
			req.Images = wc.Images
		}
	}

	return b.completer.Complete(ctx, req)
}

func (b *base) systemPrompt(wc *models.WorkflowContext) string {
	mode := models.ModeBuilder
	if wc != nil && wc.Mode.Valid() {
		mode = wc.Mode
	}
	sys := b.config.systemPrompt(b.role, mode)
	if summary := wc.MetaString(models.MetaContextSummary); summary != "" {
		sys += "\n\n# Conversation context\n" + summary
	}
	return sys
}

// extractJSON strips markdown fences and returns the outermost JSON object
func extractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)

	// Remove markdown code blocks
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return "", errors.New("no JSON object found in response")
	}

	return response[start : end+1], nil
}

func decodeJSON(role models.Role, response string, v interface{}) error {
	raw, err := extractJSON(response)
	if err != nil {
		return &ParseError{Role: role, Reason: err.Error(), Raw: response}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ParseError{Role: role, Reason: fmt.Sprintf("JSON parse error: %v", err), Raw: response}
	}
	return nil
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
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
