// internal/locate/locate.go
package locate

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrNotFound reports that a glob did not resolve to exactly one device.
// Retry policy belongs to the caller; Path never retries or caches.
var ErrNotFound = errors.New("locate: device not found")

// Path resolves a filesystem glob to exactly one device node.
// Callers MUST re-resolve on every reconnect attempt: by-id paths
// disappear on unplug and may reappear under the same name after replug.
func Path(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("locate: bad pattern %q: %w", pattern, err)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("%w: no match for %q", ErrNotFound, pattern)
	default:
		return "", fmt.Errorf("%w: %d matches for %q, want exactly one", ErrNotFound, len(matches), pattern)
	}
}
