// internal/loop/parse.go
package loop

import (
	"regexp"
	"strings"
)

// reasoning is the model's self-reported status block for one step.
type reasoning struct {
	Evaluation string
	Memory     string
	NextGoal   string
}

var (
	evaluationRe = regexp.MustCompile(`(?im)^\s*\**\s*evaluation\s*\**\s*:\s*(.+)$`)
	memoryRe     = regexp.MustCompile(`(?im)^\s*\**\s*memory\s*\**\s*:\s*(.+)$`)
	nextGoalRe   = regexp.MustCompile(`(?im)^\s*\**\s*next\s*goal\s*\**\s*:\s*(.+)$`)
)

// parseReasoning extracts the three status fields from the model's free text.
// The pattern is deliberately tolerant of markdown decoration and casing, and
// a missing field defaults to "N/A". A malformed block never aborts the step.
func parseReasoning(text string) reasoning {
	pick := func(re *regexp.Regexp) string {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		return "N/A"
	}
	return reasoning{
		Evaluation: pick(evaluationRe),
		Memory:     pick(memoryRe),
		NextGoal:   pick(nextGoalRe),
	}
}
