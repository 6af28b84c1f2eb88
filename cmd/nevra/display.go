package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantumflow/nevra/internal/models"
)

// colorCode represents ANSI color codes
type colorCode string

const (
	colorReset  colorCode = "\033[0m"
	colorRed    colorCode = "\033[31m"
	colorGreen  colorCode = "\033[32m"
	colorYellow colorCode = "\033[33m"
	colorCyan   colorCode = "\033[36m"
	colorGray   colorCode = "\033[90m"
	colorBold   colorCode = "\033[1m"
)

// colorize wraps text in color codes if colors are enabled
func colorize(text string, color colorCode, enabled bool) string {
	if !enabled {
		return text
	}
	return string(color) + text + string(colorReset)
}

var statusMessages = map[models.Status]string{
	models.StatusPreprocessing: "Analyzing request...",
	models.StatusRouting:       "Choosing models...",
	models.StatusPlanning:      "Planning...",
	models.StatusExecuting:     "Generating...",
	models.StatusReviewing:     "Reviewing...",
	models.StatusRevising:      "Revising...",
	models.StatusSaving:        "Saving...",
	models.StatusCompleted:     "Done",
	models.StatusError:         "Failed",
}

// progressDisplay renders workflow progress on a terminal. With animation
// it keeps a spinner on one line; without, every status is its own line.
type progressDisplay struct {
	writer  io.Writer
	colors  bool
	animate bool
	verbose bool

	mu        sync.Mutex
	message   string
	frames    []string
	current   int
	startTime time.Time

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newProgressDisplay(writer io.Writer, colors, animate, verbose bool) *progressDisplay {
	return &progressDisplay{
		writer:    writer,
		colors:    colors,
		animate:   animate,
		verbose:   verbose,
		message:   statusMessages[models.StatusPreprocessing],
		frames:    []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start starts the spinner. It is a no-op without animation.
func (p *progressDisplay) Start() {
	if !p.animate {
		close(p.done)
		return
	}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				frame := p.frames[p.current%len(p.frames)]
				fmt.Fprintf(p.writer, "\r\033[K%s %s", colorize(frame, colorCyan, p.colors), p.message)
				p.current++
				p.mu.Unlock()
			case <-p.stopChan:
				fmt.Fprint(p.writer, "\r\033[K")
				return
			}
		}
	}()
}

// Stop stops the spinner and waits for the line to be cleared
func (p *progressDisplay) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	<-p.done
}

// Status is a models.StatusFunc
func (p *progressDisplay) Status(status models.Status) {
	msg, ok := statusMessages[status]
	if !ok {
		msg = string(status)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.message = msg
	if !p.animate {
		fmt.Fprintln(p.writer, colorize("• "+msg, colorGray, p.colors))
	}
}

// State is a models.StateChangeFunc. Transitions are shown only in
// verbose mode.
func (p *progressDisplay) State(state models.WorkflowState, details map[string]interface{}) {
	if !p.verbose {
		return
	}

	line := "→ " + string(state)
	if n, ok := details["execution_attempts"].(int); ok && n > 0 {
		line += fmt.Sprintf(" #%d", n)
	}
	if reason, ok := details["stop_reason"].(string); ok && reason != "" {
		line += " (" + reason + ")"
	}
	if msg, ok := details["error"].(string); ok {
		line += ": " + msg
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.animate {
		fmt.Fprintf(p.writer, "\r\033[K%s\n", colorize(line, colorGray, p.colors))
		return
	}
	fmt.Fprintln(p.writer, colorize(line, colorGray, p.colors))
}

// Summary formats the statistics line shown after a result
func (p *progressDisplay) Summary(result *models.WorkflowResult) string {
	md := result.Metadata
	parts := []string{
		fmt.Sprintf("⏱ %.2fs", time.Since(p.startTime).Seconds()),
		fmt.Sprintf("attempts %d", md.ExecutionAttempts),
	}
	if md.RevisionAttempts > 0 {
		parts = append(parts, fmt.Sprintf("revisions %d", md.RevisionAttempts))
	}
	if md.QualityScore != nil {
		parts = append(parts, fmt.Sprintf("quality %.2f", *md.QualityScore))
	}
	if md.StopReason != "" {
		parts = append(parts, md.StopReason)
	}
	return colorize(strings.Join(parts, " | "), colorGray, p.colors)
}

// printResult writes the response, code and plan of result to w
func printResult(w io.Writer, result *models.WorkflowResult, showPlan, colors bool) {
	if result.Metadata.FinalState == models.StateError {
		fmt.Fprintln(w, colorize("✗ "+result.Response, colorRed, colors))
		if result.Error != "" {
			fmt.Fprintln(w, colorize("  "+result.Error, colorGray, colors))
		}
		return
	}

	if showPlan && result.Plan != nil {
		fmt.Fprintln(w, colorize(result.Plan.Markdown(), colorYellow, colors))
	}

	if result.Response != "" {
		fmt.Fprintln(w, result.Response)
	}
	if result.Code != "" && !strings.Contains(result.Response, result.Code) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, result.Code)
	}
	for _, path := range sortedKeys(result.Files) {
		fmt.Fprintln(w, colorize("📄 "+path, colorGreen, colors))
	}
	if result.Review != nil && len(result.Review.Suggestions) > 0 {
		fmt.Fprintln(w, colorize("\nSuggestions:", colorBold, colors))
		for _, s := range result.Review.Suggestions {
			fmt.Fprintf(w, "  • %s\n", s)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
