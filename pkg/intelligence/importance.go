// Package intelligence provides the scoring primitives of the memory stream:
// model-rated importance, exponential recency decay and vector similarity.
package intelligence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

const (
	// MinImportance and MaxImportance bound a rating.
	MinImportance = 1
	MaxImportance = 10
)

const ratingPrompt = `On a scale from 1 to 10, where 1 is purely mundane (e.g. brushing your teeth, making the bed, walking the same path)
and 10 is moving (e.g., a breakup, acceptance into college), rate (based on your perspective) the likely impact of the following memory.

Memory:
%s

MANDATORILY, follow the format below, do not explain anything else, just write a single number enclosed in brackets.

Format:
Rating: [<FILL IN>]`

var ratingPattern = regexp.MustCompile(`(?i)rating\s*:\s*\[?\s*(-?\d+)\s*\]?`)

// ImportanceEvaluator asks a model to rate how poignant a memory is.
//
// The rating is taken from the character's perspective: the character
// description is sent as the system role.
//
// Example usage:
//
//	evaluator := NewImportanceEvaluator(provider, "Klaus Mueller is a sociology student")
//	score, err := evaluator.Rate(ctx, "Klaus broke up with his girlfriend")
//	// score is in [1, 10]
type ImportanceEvaluator struct {
	llm llm.Provider

	mu                   sync.RWMutex
	characterDescription string
}

// NewImportanceEvaluator creates a new importance evaluator.
func NewImportanceEvaluator(provider llm.Provider, characterDescription string) *ImportanceEvaluator {
	return &ImportanceEvaluator{
		llm:                  provider,
		characterDescription: characterDescription,
	}
}

// SetCharacterDescription replaces the system role of later ratings.
func (e *ImportanceEvaluator) SetCharacterDescription(description string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.characterDescription = description
}

// CharacterDescription returns the current system role.
func (e *ImportanceEvaluator) CharacterDescription() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.characterDescription
}

// Rate returns the model's importance rating for description.
//
// A reply without a "Rating: [n]" field, or with n outside [1, 10], fails
// with ErrMalformedModelResponse. There is no default rating.
//
// Parameters:
//   - ctx: Context for the model call
//   - description: Memory text to rate
//
// Returns:
//   - int: Rating in [1, 10]
//   - error: The provider error, or ErrMalformedModelResponse
func (e *ImportanceEvaluator) Rate(ctx context.Context, description string) (int, error) {
	prompt := fmt.Sprintf(ratingPrompt, strings.TrimSpace(description))

	completion, err := e.llm.Complete(ctx, e.CharacterDescription(), prompt)
	if err != nil {
		return 0, err
	}

	return ParseRating(completion.Text)
}

// ParseRating extracts the integer from a "Rating: [n]" reply.
func ParseRating(response string) (int, error) {
	m := ratingPattern.FindStringSubmatch(response)
	if m == nil {
		return 0, fmt.Errorf("%w: no rating in %q", ErrMalformedModelResponse, response)
	}

	rating, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: rating %q: %w", ErrMalformedModelResponse, m[1], err)
	}
	if rating < MinImportance || rating > MaxImportance {
		return 0, fmt.Errorf("%w: rating %d outside [%d, %d]", ErrMalformedModelResponse, rating, MinImportance, MaxImportance)
	}
	return rating, nil
}

// NormalizeImportance maps a rating in [1, 10] onto [0, 1].
func NormalizeImportance(importance int) float64 {
	return float64(importance-MinImportance) / float64(MaxImportance-MinImportance)
}
