// internal/gpib/counter.go
package gpib

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/serial"
)

// Reasons name the failing layer so an operator can tell cabling from
// addressing from instrument state without reading logs line by line.
const (
	ReasonNoAdapter      = "no adapter response"
	ReasonWrongAddress   = "wrong address"
	ReasonBadReply       = "bad reply"
	ReasonOutOfTolerance = "out of tolerance"
)

// Error is an instrument-protocol failure with a stable reason.
type Error struct {
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "gpib: " + e.Reason
	}
	return "gpib: " + e.Reason + ": " + e.Detail
}

// readTimeout is the fixed per-read deadline of the adapter link.
const readTimeout = 2 * time.Second

type Config struct {
	Address  string // serial device path of the GPIB adapter
	BaudRate int

	// Addr is the GPIB bus address of the counter.
	Addr int

	ExpectedHz  int64
	ToleranceHz int64
}

// Counter operates a bench frequency counter through a Prologix-style
// GPIB adapter. One request/response exchange per provisioning run.
type Counter struct {
	rw  io.ReadWriteCloser
	cfg Config
}

// Open opens the adapter transport with fixed framing: 8 data bits, no
// parity, 1 stop bit, no flow control, 2-second read timeout.
func Open(cfg Config) (*Counter, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gpib: open %s: %w", cfg.Address, err)
	}
	return NewCounter(port, cfg), nil
}

// NewCounter wraps an already-open transport.
func NewCounter(rw io.ReadWriteCloser, cfg Config) *Counter {
	return &Counter{rw: rw, cfg: cfg}
}

func (c *Counter) Close() error {
	return c.rw.Close()
}

// MeasureFrequency runs the full exchange: adapter init, instrument
// reset and identification, one scaled frequency measurement, then
// re-arms continuous mode as a courtesy to the next bench user.
// The result is gated against ExpectedHz +/- ToleranceHz; an
// out-of-tolerance value is an error, never a return value.
func (c *Counter) MeasureFrequency() (int64, error) {
	// Adapter init: controller mode, auto-addressing, target address.
	for _, cmd := range []string{"++mode 1", "++auto 1", fmt.Sprintf("++addr %d", c.cfg.Addr)} {
		if err := c.send(cmd); err != nil {
			return 0, err
		}
	}

	ver, err := c.query("++ver")
	if err != nil {
		return 0, err
	}
	if ver == "" {
		return 0, &Error{Reason: ReasonNoAdapter, Detail: "empty ++ver reply"}
	}

	// Reset, clear and identify the instrument. An adapter that answers
	// ++ver but relays nothing from *IDN? points at addressing, not
	// connectivity.
	idn, err := c.query("*CLS;*RST;*IDN?")
	if err != nil {
		return 0, err
	}
	if idn == "" {
		return 0, &Error{
			Reason: ReasonWrongAddress,
			Detail: fmt.Sprintf("no identification reply at addr %d", c.cfg.Addr),
		}
	}

	if err := c.send(":STAT:PRES"); err != nil {
		return 0, err
	}

	// The expected value and resolution let the counter pick gate time.
	reply, err := c.query(fmt.Sprintf(":MEASURE:FREQ? %d HZ, 1 HZ", c.cfg.ExpectedHz))
	if err != nil {
		return 0, err
	}
	if reply == "" {
		return 0, &Error{Reason: ReasonBadReply, Detail: "empty measurement reply"}
	}

	f, perr := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if perr != nil {
		return 0, &Error{Reason: ReasonBadReply, Detail: fmt.Sprintf("measurement reply %q", reply)}
	}
	hz := int64(math.Round(f))

	// Leave the counter free-running for whoever uses the bench next.
	if err := c.send(":INIT:CONT ON"); err != nil {
		return 0, err
	}

	if diff := hz - c.cfg.ExpectedHz; diff > c.cfg.ToleranceHz || diff < -c.cfg.ToleranceHz {
		return 0, &Error{
			Reason: ReasonOutOfTolerance,
			Detail: fmt.Sprintf("measured %d Hz, want %d +/- %d Hz", hz, c.cfg.ExpectedHz, c.cfg.ToleranceHz),
		}
	}

	return hz, nil
}

func (c *Counter) send(cmd string) error {
	if _, err := io.WriteString(c.rw, cmd+"\n"); err != nil {
		return fmt.Errorf("gpib: send %q: %w", cmd, err)
	}
	return nil
}

// query sends a command and reads one reply line. A read timeout or end
// of stream yields an empty reply, not an error: the caller maps empty
// replies to the step-specific diagnosis.
func (c *Counter) query(cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *Counter) readLine() (string, error) {
	var line []byte
	chunk := make([]byte, 256)

	for {
		n, err := c.rw.Read(chunk)
		if n > 0 {
			line = append(line, chunk[:n]...)
			if i := bytes.IndexByte(line, '\n'); i >= 0 {
				return strings.TrimRight(string(line[:i]), "\r"), nil
			}
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) || errors.Is(err, io.EOF) {
				return strings.TrimSpace(string(line)), nil
			}
			return "", fmt.Errorf("gpib: read: %w", err)
		}
	}
}
