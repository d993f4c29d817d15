package intelligence

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedModelResponse indicates that a model reply did not follow the
// format its prompt demanded.
var ErrMalformedModelResponse = errors.New("malformed model response")

// ExtractField returns the trimmed text after the first "label:" in response.
//
// The label match is case-insensitive and the value runs to the end of the
// line. A missing label or an empty value is malformed.
func ExtractField(response, label string) (string, error) {
	lower := strings.ToLower(response)
	key := strings.ToLower(label) + ":"

	idx := strings.Index(lower, key)
	if idx < 0 {
		return "", fmt.Errorf("%w: missing %q field", ErrMalformedModelResponse, label)
	}

	value := response[idx+len(key):]
	if nl := strings.IndexByte(value, '\n'); nl >= 0 {
		value = value[:nl]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty %q field", ErrMalformedModelResponse, label)
	}
	return value, nil
}
