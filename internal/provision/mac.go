// internal/provision/mac.go
package provision

import (
	"fmt"
	"strings"
)

// CanonicalMAC combines the fixed prefix (eight hex digits, four
// octets) with an operator-supplied two-octet suffix into a canonical
// lower-case colon-separated address. The suffix must be exactly four
// hex digits after stripping ':', '-' and '.' separators; anything else
// is rejected so the caller can re-prompt.
func CanonicalMAC(prefix, suffix string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(suffix))
	s = strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)

	if len(s) != 4 {
		return "", fmt.Errorf("provision: mac suffix %q: want 4 hex digits, got %d", suffix, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", fmt.Errorf("provision: mac suffix %q: %q is not a hex digit", suffix, c)
		}
	}

	full := prefix + s
	octets := make([]string, 0, 6)
	for i := 0; i < len(full); i += 2 {
		octets = append(octets, full[i:i+2])
	}
	return strings.Join(octets, ":"), nil
}
