// internal/operator/operator.go
package operator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal is the operator-facing surface: banner, notices, keypress
// acknowledgment and the MAC-suffix prompt. Interactive is an explicit
// construction-time choice, not a process-wide switch; with it off,
// prompts degrade to log-style output and keypress waits are skipped so
// the engine can run under a supervisor.
type Terminal struct {
	in          *os.File
	reader      *bufio.Reader
	out         io.Writer
	interactive bool
}

// New binds the operator terminal to stdin/stdout.
func New(interactive bool) *Terminal {
	return NewWith(os.Stdin, os.Stdout, interactive)
}

// NewWith binds explicit streams; used by tests.
func NewWith(in *os.File, out io.Writer, interactive bool) *Terminal {
	return &Terminal{
		in:          in,
		reader:      bufio.NewReader(in),
		out:         out,
		interactive: interactive,
	}
}

// Banner prints the run header.
func (t *Terminal) Banner(title string) {
	line := strings.Repeat("-", len(title))
	fmt.Fprintf(t.out, "\n%s\n%s\n", title, line)
}

// Notice prints a one-line operator message.
func (t *Terminal) Notice(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

// AckKeypress blocks until the operator presses any key. Non-interactive
// terminals acknowledge immediately.
func (t *Terminal) AckKeypress(msg string) error {
	fmt.Fprintf(t.out, "%s ", msg)
	if !t.interactive {
		fmt.Fprintln(t.out)
		return nil
	}

	fd := int(t.in.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("operator: raw mode: %w", err)
	}
	defer term.Restore(fd, old)

	var b [1]byte
	if _, err := t.in.Read(b[:]); err != nil {
		return fmt.Errorf("operator: keypress: %w", err)
	}
	fmt.Fprintln(t.out)
	return nil
}

// PromptLine prints a prompt and reads one trimmed input line.
func (t *Terminal) PromptLine(prompt string) (string, error) {
	fmt.Fprintf(t.out, "%s", prompt)
	line, err := t.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("operator: read line: %w", err)
	}
	return strings.TrimSpace(line), nil
}
