// internal/flash/parse.go
package flash

import (
	"strconv"
	"strings"
)

// parseBytesRead parses a fatload byte-count reply of the exact shape
// "<N> bytes read". Anything else is a protocol fault, surfaced with
// the raw text.
func parseBytesRead(line string) (uint32, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[1] != "bytes" || fields[2] != "read" {
		return 0, &ReplyError{Step: "fatload", Reason: ReasonUnexpectedReply, Raw: line}
	}

	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, &ReplyError{Step: "fatload", Reason: ReasonBadByteCount, Raw: line}
	}

	return uint32(n), nil
}
