package agent

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/models"
)

// FailureMarker prefixes the explanation of a failed execution
const FailureMarker = "[execution failed]"

// fileMarker matches "FILE: path", optionally in bold or as a heading
var fileMarker = regexp.MustCompile(`^\s*(?:#+\s*)?(?:\*\*)?FILE:\s*` + "`?" + `([\w./-]+)` + "`?" + `(?:\*\*)?\s*$`)

// Executor produces the code or explanation for a request
type Executor struct {
	base
}

// Execute runs the request, following plan when given. It never returns an
// error: a failed backend call yields a result with Failed set and a
// visibly marked explanation.
func (e *Executor) Execute(ctx context.Context, wc *models.WorkflowContext, plan *models.EnhancedPlan) *models.ExecutionResult {
	start := time.Now()

	completion, err := e.complete(ctx, wc, executePrompt(wc, plan), true)
	if err != nil {
		e.logger.Warn(ctx, "execution failed", zap.Error(err))
		return &models.ExecutionResult{
			Explanation:   FailureMarker + " " + err.Error(),
			Model:         e.model,
			ExecutionTime: time.Since(start),
			Failed:        true,
			Error:         err.Error(),
		}
	}

	result := ParseOutput(completion.Content, wc.Mode)
	result.Model = e.model
	result.TokensUsed = completion.TokensUsed
	result.ExecutionTime = time.Since(start)
	return result
}

// ParseOutput splits backend output into code, files and explanation.
// In tutor mode the whole text is the explanation.
func ParseOutput(content string, mode models.Mode) *models.ExecutionResult {
	blocks, files, prose := splitArtifacts(content)

	result := &models.ExecutionResult{Raw: content}
	if len(files) > 0 {
		result.Files = files
	}
	result.Code = strings.Join(blocks, "\n\n")

	if mode == models.ModeTutor {
		result.Explanation = strings.TrimSpace(content)
	} else {
		result.Explanation = strings.TrimSpace(prose)
	}
	return result
}

// splitArtifacts scans fenced blocks. A block preceded by a FILE marker, or
// whose fence names a path ("```go main.go"), becomes a file; any other
// block is code. Unsafe paths fall back to code.
func splitArtifacts(content string) (blocks []string, files map[string]string, prose string) {
	var (
		proseLines  []string
		body        []string
		inBlock     bool
		pendingPath string
		blockPath   string
	)

	flush := func() {
		text := strings.Join(body, "\n")
		if blockPath != "" && isSafePath(blockPath) {
			if files == nil {
				files = make(map[string]string)
			}
			files[filepath.Clean(blockPath)] = text
		} else if strings.TrimSpace(text) != "" {
			blocks = append(blocks, text)
		}
		body = nil
		blockPath = ""
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inBlock {
				flush()
				inBlock = false
				continue
			}
			inBlock = true
			blockPath = pendingPath
			pendingPath = ""
			if fields := strings.Fields(strings.TrimPrefix(trimmed, "```")); blockPath == "" && len(fields) >= 2 && strings.Contains(fields[1], ".") {
				blockPath = fields[1]
			}
			continue
		}

		if inBlock {
			body = append(body, line)
			continue
		}

		if m := fileMarker.FindStringSubmatch(line); m != nil {
			pendingPath = m[1]
			continue
		}
		if trimmed != "" {
			pendingPath = ""
		}
		proseLines = append(proseLines, line)
	}

	if inBlock {
		flush()
	}

	return blocks, files, strings.Join(proseLines, "\n")
}

// isSafePath keeps generated files inside the project
func isSafePath(path string) bool {
	clean := filepath.Clean(path)
	return clean != "." && !strings.HasPrefix(clean, "..") && !filepath.IsAbs(clean) && !strings.HasPrefix(clean, "/")
}
