// internal/flash/flash.go
package flash

import (
	"fmt"
	"strings"
	"time"

	"github.com/benchline/provisioner/internal/console"
)

// Region is one immutable image/partition tuple. Regions are written in
// listed order and must not overlap: a later region's validity is never
// re-checked against an earlier partial failure.
type Region struct {
	File    string
	Offset  uint32
	Size    uint32
	Erase   bool
	Timeout time.Duration
}

// Console is the slice of the session the flasher drives.
type Console interface {
	Await(patterns []console.Pattern, timeout time.Duration) (int, string, error)
	Send(line string) error
}

// Reply fault reasons.
const (
	ReasonUnexpectedReply = "unexpected reply"
	ReasonBadByteCount    = "bad byte count"
	ReasonImageTooLarge   = "image larger than region"
)

// ReplyError is a firmware reply that broke the flashing protocol. It
// carries the offending raw text so an operator can diagnose a
// firmware/protocol mismatch.
type ReplyError struct {
	Step   string
	Reason string
	Raw    string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("flash: %s: %s: %q", e.Step, e.Reason, e.Raw)
}

// promptTimeout bounds waits for the bare firmware prompt between
// commands that do no flash I/O.
const promptTimeout = 10 * time.Second

// Writer sequences the per-region load/erase/write protocol over an
// open console session.
type Writer struct {
	con     Console
	scratch uint32
	prompt  string
}

// NewWriter binds a flash writer to a console. scratch is the RAM
// address images are staged at; prompt is the firmware prompt anchor.
func NewWriter(con Console, scratch uint32, prompt string) *Writer {
	return &Writer{con: con, scratch: scratch, prompt: prompt}
}

// Probe detects the serial flash part and returns its name. Must be run
// once per provisioning run before any region is written.
func (w *Writer) Probe() (string, error) {
	if err := w.con.Send("sf probe"); err != nil {
		return "", err
	}
	_, text, err := w.con.Await([]console.Pattern{console.Regex(`Detected \S+`)}, promptTimeout)
	if err != nil {
		return "", fmt.Errorf("flash: sf probe: %w", err)
	}
	if err := w.awaitPrompt("sf probe", promptTimeout); err != nil {
		return "", err
	}
	return strings.TrimPrefix(text, "Detected "), nil
}

// WriteAll writes every region in listed order. The first failure
// aborts the run; regions already written are left as-is.
func (w *Writer) WriteAll(regions []Region) error {
	for _, r := range regions {
		if err := w.writeRegion(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeRegion(r Region) error {
	// Zero the marker word first so a stale byte-count readout from a
	// previous region cannot bleed into this region's validation.
	if err := w.con.Send(fmt.Sprintf("mw %x 0 1", w.scratch)); err != nil {
		return err
	}
	if err := w.awaitPrompt("mw", promptTimeout); err != nil {
		return err
	}

	// Stage the image from removable storage into scratch RAM.
	if err := w.con.Send(fmt.Sprintf("fatload mmc 0 %x %s", w.scratch, r.File)); err != nil {
		return err
	}
	// Match the whole report line, not just the minimal token shape: a
	// malformed line must reach the parser and surface as raw text. The
	// prompt as a fallback anchor catches a load that failed without
	// printing any byte count at all.
	idx, text, err := w.con.Await(
		[]console.Pattern{console.Regex(`(?m)^.*bytes read.*$`), console.Text(w.prompt)},
		r.Timeout,
	)
	if err != nil {
		return fmt.Errorf("flash: fatload %s: %w", r.File, err)
	}
	if idx == 1 {
		return &ReplyError{Step: "fatload", Reason: ReasonUnexpectedReply, Raw: text}
	}
	n, err := parseBytesRead(strings.TrimSpace(text))
	if err != nil {
		return err
	}
	// An image may be smaller than its region (padding stays erased),
	// but one that spills past the region would corrupt its neighbor.
	if n > r.Size {
		return &ReplyError{Step: "fatload", Reason: ReasonImageTooLarge, Raw: text}
	}

	if r.Erase {
		// Combined erase-and-write; skips sectors that already match.
		if err := w.con.Send(fmt.Sprintf("sf update %x %x %x", w.scratch, r.Offset, r.Size)); err != nil {
			return err
		}
		_, _, err = w.con.Await(
			[]console.Pattern{console.Regex(`\d+ bytes written, \d+ bytes skipped`)},
			r.Timeout,
		)
		if err != nil {
			return fmt.Errorf("flash: sf update %s: %w", r.File, err)
		}
	} else {
		// Raw write: faster, but only valid on an already-erased medium.
		if err := w.con.Send(fmt.Sprintf("sf write %x %x %x", w.scratch, r.Offset, r.Size)); err != nil {
			return err
		}
		confirm := fmt.Sprintf("SF: %d bytes @ 0x%x Written: OK", r.Size, r.Offset)
		_, _, err = w.con.Await([]console.Pattern{console.Text(confirm)}, r.Timeout)
		if err != nil {
			return fmt.Errorf("flash: sf write %s: %w", r.File, err)
		}
	}

	// The prompt confirms the command fully completed before the next
	// region is started.
	return w.awaitPrompt("sf", r.Timeout)
}

func (w *Writer) awaitPrompt(step string, timeout time.Duration) error {
	if _, _, err := w.con.Await([]console.Pattern{console.Text(w.prompt)}, timeout); err != nil {
		return fmt.Errorf("flash: %s: awaiting prompt: %w", step, err)
	}
	return nil
}
