package reflection

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/memory"
)

const insightDelimiter = "/*/"

var (
	questionPattern  = regexp.MustCompile(`(?im)^\s*question\s*\d+\s*:\s*(.*?)\s*$`)
	numberingPattern = regexp.MustCompile(`^\s*\d+\s*[.)]\s*`)
	bracketPattern   = regexp.MustCompile(`\[([^\]]*)\]`)
	indexPattern     = regexp.MustCompile(`-?\d+`)
)

// formatNumbered renders entries as a 1-based list, touching each one.
func formatNumbered(entries []*memory.Entry, now time.Time) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, e.Access(now))
	}
	return sb.String()
}

// parseQuestions returns the first n non-empty "Question k:" lines.
func parseQuestions(response string, n int) ([]string, error) {
	var questions []string
	for _, m := range questionPattern.FindAllStringSubmatch(response, -1) {
		if m[1] == "" {
			continue
		}
		questions = append(questions, m[1])
		if len(questions) == n {
			return questions, nil
		}
	}
	return nil, fmt.Errorf("%w: expected %d questions, got %d", intelligence.ErrMalformedModelResponse, n, len(questions))
}

// parseInsights parses "N. <insight> /*/ References: [i, j]" lines.
//
// Indices are 1-based positions in window. Every non-blank line must carry
// the delimiter and a bracketed, non-empty index list.
func parseInsights(response string, window []*memory.Entry) ([]Insight, error) {
	var insights []Insight
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		text, refs, ok := strings.Cut(line, insightDelimiter)
		if !ok {
			return nil, fmt.Errorf("%w: insight without %q delimiter: %q", intelligence.ErrMalformedModelResponse, insightDelimiter, line)
		}

		description := strings.TrimSpace(numberingPattern.ReplaceAllString(text, ""))
		if description == "" {
			return nil, fmt.Errorf("%w: empty insight: %q", intelligence.ErrMalformedModelResponse, line)
		}

		m := bracketPattern.FindStringSubmatch(refs)
		if m == nil {
			return nil, fmt.Errorf("%w: insight without bracketed references: %q", intelligence.ErrMalformedModelResponse, line)
		}
		raw := indexPattern.FindAllString(m[1], -1)
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: insight with empty references: %q", intelligence.ErrMalformedModelResponse, line)
		}

		insight := Insight{Description: description}
		seen := make(map[int]bool, len(raw))
		for _, r := range raw {
			idx, err := strconv.Atoi(r)
			if errors.Is(err, strconv.ErrRange) {
				return nil, fmt.Errorf("%w: reference %s outside [1, %d]", memory.ErrInvalidReference, r, len(window))
			}
			if err != nil {
				return nil, fmt.Errorf("%w: reference %q: %w", intelligence.ErrMalformedModelResponse, r, err)
			}
			if idx < 1 || idx > len(window) {
				return nil, fmt.Errorf("%w: reference %d outside [1, %d]", memory.ErrInvalidReference, idx, len(window))
			}
			if seen[idx] {
				continue
			}
			seen[idx] = true
			insight.SourceIndices = append(insight.SourceIndices, idx)
			insight.SourceIDs = append(insight.SourceIDs, window[idx-1].ID())
		}
		insights = append(insights, insight)
	}

	if len(insights) == 0 {
		return nil, fmt.Errorf("%w: no insights", intelligence.ErrMalformedModelResponse)
	}
	return insights, nil
}
