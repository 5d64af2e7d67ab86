package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxIdentifierLength matches the common filesystem name limit, since a
// content id becomes a directory name and an object key prefix.
const maxIdentifierLength = 255

var ErrInvalidIdentifier = errors.New("invalid identifier")

// forbiddenChars can escape the per-content output directory or break object
// keys and log lines.
var forbiddenChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true,
	'\r': true,
}

// ValidateContentID rejects ids that cannot be used verbatim as a path
// segment and object key prefix.
func ValidateContentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidIdentifier)
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("%w: content id longer than %d bytes", ErrInvalidIdentifier, maxIdentifierLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: content id is not valid UTF-8", ErrInvalidIdentifier)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: content id %q", ErrInvalidIdentifier, id)
	}
	if id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: content id has surrounding whitespace", ErrInvalidIdentifier)
	}
	for _, r := range id {
		if r < 32 || r == 127 || forbiddenChars[r] {
			return fmt.Errorf("%w: content id contains %q", ErrInvalidIdentifier, r)
		}
	}
	return nil
}
