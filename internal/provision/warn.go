// internal/provision/warn.go
package provision

import (
	"fmt"
	"log"
)

// Warner rate-limits repeated identical warnings to one message until
// the condition changes or Reset is called.
type Warner struct {
	logf func(format string, args ...interface{})
	last string
}

// NewWarner creates a warner. A nil logf logs through the standard
// logger.
func NewWarner(logf func(format string, args ...interface{})) *Warner {
	if logf == nil {
		logf = log.Printf
	}
	return &Warner{logf: logf}
}

func (w *Warner) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if msg == w.last {
		return
	}
	w.last = msg
	w.logf("%s", msg)
}

// Reset clears the suppression so the next warning is always printed.
func (w *Warner) Reset() {
	w.last = ""
}
