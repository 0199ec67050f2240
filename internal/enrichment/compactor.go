package enrichment

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/agentd/internal/contextstore"
)

const (
	// turnExcerptLen is how much of a folded turn survives in the summary.
	turnExcerptLen = 120

	// condensedExcerptLen is the per-line length after re-summarization.
	condensedExcerptLen = 48
)

// Compactor folds overflowing episodic turns into the running summary.
//
// Folding is deterministic extract-and-append: each folded turn contributes
// one summary line. The summary never loses entries, but when it outgrows
// maxSummaryChars every line is condensed to a shorter excerpt so total size
// stays bounded.
type Compactor struct {
	window          int
	maxSummaryChars int
}

// NewCompactor creates a compactor for the given window bound.
func NewCompactor(window, maxSummaryChars int) *Compactor {
	return &Compactor{window: window, maxSummaryChars: maxSummaryChars}
}

// Fold trims the recent-turn window down to the configured bound, appending
// the removed turns to the summary. Returns the number of turns folded.
func (c *Compactor) Fold(ep *contextstore.EpisodicState) int {
	overflow := len(ep.RecentTurns) - c.window
	if overflow <= 0 {
		return 0
	}

	var sb strings.Builder
	sb.WriteString(ep.Summary)
	for _, turn := range ep.RecentTurns[:overflow] {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(fmt.Sprintf("%s: %s", turn.Role, excerpt(turn.Content, turnExcerptLen)))
	}
	ep.Summary = sb.String()
	ep.RecentTurns = append(ep.RecentTurns[:0:0], ep.RecentTurns[overflow:]...)

	if c.maxSummaryChars > 0 && len(ep.Summary) > c.maxSummaryChars {
		ep.Summary = condense(ep.Summary, c.maxSummaryChars)
	}
	return overflow
}

// excerpt cuts content at the first newline, then at max bytes, backing off
// to the nearest rune boundary so the result stays valid UTF-8.
func excerpt(content string, max int) string {
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	if len(content) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = strings.TrimSpace(content[:cut]) + "..."
	}
	return content
}

// condense re-summarizes the summary by shortening every line. When even
// that exceeds the budget the oldest lines are merged into a count marker,
// so the result is always within bounds and still deterministic.
func condense(summary string, maxChars int) string {
	lines := strings.Split(summary, "\n")
	for i, line := range lines {
		lines[i] = excerpt(line, condensedExcerptLen)
	}
	out := strings.Join(lines, "\n")
	dropped := 0
	for len(out) > maxChars && len(lines) > 1 {
		dropped++
		lines = lines[1:]
		merged := append([]string{fmt.Sprintf("[%d earlier exchanges condensed]", dropped)}, lines...)
		out = strings.Join(merged, "\n")
	}
	if dropped > 0 {
		lines = append([]string{fmt.Sprintf("[%d earlier exchanges condensed]", dropped)}, lines...)
		out = strings.Join(lines, "\n")
	}
	return out
}
