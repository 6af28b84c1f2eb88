package awareness

import (
	"fmt"
	"strings"

	"github.com/quantumflow/nevra/internal/models"
)

const summaryMessageChars = 120

// GenerateContextSummary renders ca for prompt injection. The output only
// depends on ca's content (timestamps are left out), so equal snapshots
// render identically.
func GenerateContextSummary(ca *models.ContextAwareness) string {
	if ca == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString("## Current\n")
	fmt.Fprintf(&b, "State: %s\n", ca.Current.State)
	if ca.Current.Intent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", ca.Current.Intent)
	}
	if ca.Current.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", truncate(ca.Current.Task, summaryMessageChars))
	}

	b.WriteString("\n## Past\n")
	fmt.Fprintf(&b, "Interactions: %d\n", ca.Past.Stats.TotalInteractions)
	if len(ca.Past.Outcomes) > 0 {
		fmt.Fprintf(&b, "Average quality: %.2f\n", ca.Past.Stats.AverageQuality)
		fmt.Fprintf(&b, "Success rate: %.0f%%\n", ca.Past.Stats.SuccessRate*100)
	}
	if len(ca.Past.RecentIntents) > 0 {
		fmt.Fprintf(&b, "Recent intents: %s\n", joinIntents(ca.Past.RecentIntents))
	}
	if len(ca.Past.RecentMessages) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range ca.Past.RecentMessages {
			fmt.Fprintf(&b, "- %s: %s\n", m.Role, truncate(oneLine(m.Content), summaryMessageChars))
		}
	}
	if len(ca.Past.Outcomes) > 0 {
		b.WriteString("Recent outcomes:\n")
		for _, o := range ca.Past.Outcomes {
			fmt.Fprintf(&b, "- %s (quality %.2f)", o.Intent, o.QualityScore)
			if len(o.WhatWorked) > 0 {
				fmt.Fprintf(&b, "; worked: %s", strings.Join(o.WhatWorked, ", "))
			}
			if len(o.WhatFailed) > 0 {
				fmt.Fprintf(&b, "; failed: %s", strings.Join(o.WhatFailed, ", "))
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\n## Future\n")
	if len(ca.Future.PlannedTasks) > 0 {
		fmt.Fprintf(&b, "Planned tasks: %s\n", strings.Join(ca.Future.PlannedTasks, ", "))
	}
	if len(ca.Future.UpcomingIntents) > 0 {
		fmt.Fprintf(&b, "Likely next: %s\n", joinIntents(ca.Future.UpcomingIntents))
	}
	if len(ca.Future.PendingImprovements) > 0 {
		b.WriteString("Pending improvements:\n")
		for _, s := range ca.Future.PendingImprovements {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func joinIntents(intents []models.Intent) string {
	parts := make([]string, len(intents))
	for i, in := range intents {
		parts[i] = string(in)
	}
	return strings.Join(parts, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
