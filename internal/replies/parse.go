package replies

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dwizi/media-relay/internal/mediaerr"
)

// ErrInvalidSelection wraps mediaerr.ErrValidation.
var ErrInvalidSelection = fmt.Errorf("%w: invalid selection", mediaerr.ErrValidation)

// ParseSelection reads a 1-based index and an optional variant token from a
// reply body, e.g. "3", "3 audio", "#2 720p".
func ParseSelection(body string) (int, string, error) {
	fields := strings.Fields(strings.TrimSpace(body))
	for len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return 0, "", ErrInvalidSelection
	}
	token := strings.TrimSuffix(strings.TrimPrefix(fields[0], "#"), ".")
	index, err := strconv.Atoi(token)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q is not a number", ErrInvalidSelection, fields[0])
	}
	variant := ""
	if len(fields) > 1 {
		variant = strings.ToLower(strings.TrimSpace(fields[1]))
	}
	return index, variant, nil
}
