// internal/console/session.go
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goburrow/serial"
)

// ErrTimeout reports that no candidate pattern appeared within the
// Await deadline. It is the dominant recoverable failure of the engine:
// an expected-order mismatch against the firmware surfaces here.
var ErrTimeout = errors.New("console: timeout")

// ErrClosed reports that the transport reached end of stream. The
// session is terminally closed and must be discarded, never reused.
var ErrClosed = errors.New("console: end of stream")

// pollInterval is the per-read serial timeout. Await loops on it so the
// overall deadline is honored to within one interval.
const pollInterval = 200 * time.Millisecond

// Session owns one console transport plus a buffered pattern matcher
// over its incoming bytes. Single-writer, single-reader: re-entrant use
// from two flows is not supported.
type Session struct {
	port   io.ReadWriteCloser
	mirror io.Writer

	// localEcho duplicates sent lines into the mirror. Off by default:
	// the firmware echoes commands itself, so local echo would show
	// every command twice on the operator's terminal.
	localEcho bool

	buf    []byte
	closed bool
}

// Open opens the console transport at the given path (8 data bits, no
// parity, 1 stop bit) and binds a session mirroring output to stdout.
func Open(path string, baud int) (*Session, error) {
	port, err := serial.Open(&serial.Config{
		Address:  path,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  pollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("console: open %s: %w", path, err)
	}
	return NewSession(port, os.Stdout), nil
}

// NewSession wraps an already-open transport. mirror may be nil.
func NewSession(port io.ReadWriteCloser, mirror io.Writer) *Session {
	return &Session{port: port, mirror: mirror}
}

// SetLocalEcho enables mirroring of sent lines for firmware consoles
// that do not echo input.
func (s *Session) SetLocalEcho(on bool) {
	s.localEcho = on
}

// Await blocks until exactly one of the given patterns appears in the
// incoming stream, then returns the index of the matched pattern and
// the matched text. Everything up to and including the match is
// consumed; later calls never see it again. Returns ErrTimeout if the
// deadline elapses first, ErrClosed if the transport closes first.
func (s *Session) Await(patterns []Pattern, timeout time.Duration) (int, string, error) {
	if s.closed {
		return 0, "", fmt.Errorf("console: await: %w", ErrClosed)
	}
	if len(patterns) == 0 {
		return 0, "", errors.New("console: await: no patterns")
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 4096)

	for {
		if idx, start, end, ok := FirstMatch(s.buf, patterns); ok {
			matched := string(s.buf[start:end])
			s.buf = append(s.buf[:0], s.buf[end:]...)
			return idx, matched, nil
		}

		if time.Now().After(deadline) {
			return 0, "", fmt.Errorf("console: no match for [%s] within %s: %w",
				describe(patterns), timeout, ErrTimeout)
		}

		n, err := s.port.Read(chunk)
		if n > 0 {
			if s.mirror != nil {
				s.mirror.Write(chunk[:n])
			}
			s.buf = append(s.buf, chunk[:n]...)
		}

		if err == nil || errors.Is(err, serial.ErrTimeout) {
			continue
		}
		if errors.Is(err, io.EOF) {
			// The tail read may still complete the match.
			if idx, start, end, ok := FirstMatch(s.buf, patterns); ok {
				matched := string(s.buf[start:end])
				s.buf = append(s.buf[:0], s.buf[end:]...)
				return idx, matched, nil
			}
			_ = s.Close()
			return 0, "", fmt.Errorf("console: await: %w", ErrClosed)
		}
		return 0, "", fmt.Errorf("console: read: %w", err)
	}
}

// Send writes the line plus a terminator in a single write. It does not
// await a response.
func (s *Session) Send(line string) error {
	if s.closed {
		return fmt.Errorf("console: send: %w", ErrClosed)
	}
	if s.localEcho && s.mirror != nil {
		fmt.Fprintln(s.mirror, line)
	}
	if _, err := io.WriteString(s.port, line+"\n"); err != nil {
		return fmt.Errorf("console: send %q: %w", line, err)
	}
	return nil
}

// Close releases the transport. Idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}
