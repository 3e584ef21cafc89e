// internal/provision/run.go
package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/benchline/provisioner/internal/config"
	"github.com/benchline/provisioner/internal/console"
	"github.com/benchline/provisioner/internal/flash"
	"github.com/benchline/provisioner/internal/gpib"
	"github.com/benchline/provisioner/internal/locate"
)

const (
	// retryDelay paces device-discovery retries while nothing is plugged.
	retryDelay = 2 * time.Second

	// bannerTimeout bounds one wait for the ready banner; the loop
	// simply waits again, so this only sets the warning cadence.
	bannerTimeout = 30 * time.Second

	// promptTimeout bounds env-write prompt waits (no flash I/O).
	promptTimeout = 10 * time.Second

	// saveTimeout bounds saveenv, which erases and rewrites the env sector.
	saveTimeout = 30 * time.Second
)

// Console is the session surface the engine drives.
type Console interface {
	Await(patterns []console.Pattern, timeout time.Duration) (int, string, error)
	Send(line string) error
	Close() error
}

// Instrument yields one gated frequency measurement per run.
type Instrument interface {
	MeasureFrequency() (int64, error)
	Close() error
}

// Flasher writes the configured regions over an open console.
type Flasher interface {
	Probe() (string, error)
	WriteAll(regions []flash.Region) error
}

// Prompter is the operator-facing surface.
type Prompter interface {
	Banner(title string)
	Notice(format string, args ...interface{})
	AckKeypress(msg string) error
	PromptLine(prompt string) (string, error)
}

// Engine is the top-level provisioning driver: an unbounded loop that
// sequences test-wait, measurement, environment writes, flashing and
// persistence, and maps every failure onto a recovery action instead of
// terminating.
type Engine struct {
	cfg  *config.Config
	op   Prompter
	warn *Warner

	// injected collaborators; tests replace these
	locatePath  func(glob string) (string, error)
	openConsole func(path string) (Console, error)
	openCounter func(path string) (Instrument, error)
	newFlasher  func(con Console) Flasher
	sleep       func(d time.Duration)

	state      State
	session    Console
	pastBanner bool
}

// New wires an engine against real transports.
func New(cfg *config.Config, op Prompter) *Engine {
	p := cfg.Provisioner

	e := &Engine{
		cfg:        cfg,
		op:         op,
		warn:       NewWarner(nil),
		locatePath: locate.Path,
		sleep:      time.Sleep,
	}
	e.openConsole = func(path string) (Console, error) {
		return console.Open(path, p.Console.Baud)
	}
	e.openCounter = func(path string) (Instrument, error) {
		return gpib.Open(gpib.Config{
			Address:     path,
			BaudRate:    p.Instrument.Baud,
			Addr:        p.Instrument.Addr,
			ExpectedHz:  p.Instrument.ExpectedHz,
			ToleranceHz: p.Instrument.ToleranceHz,
		})
	}
	e.newFlasher = func(con Console) Flasher {
		return flash.NewWriter(con, p.Flash.ScratchAddr, p.Console.Prompt)
	}
	return e
}

// Run loops provisioning iterations until the context is cancelled.
// Every caught failure converts into a loop restart, never termination.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.dropSession()
			return ctx.Err()
		default:
		}
		e.runOnce()
	}
}

// runOnce drives a single iteration from device discovery to either
// completion or a retryable failure.
func (e *Engine) runOnce() {
	p := e.cfg.Provisioner
	e.state = StateWaitingForDevice

	// ---- console transport ----

	if e.session == nil {
		path, err := e.locatePath(p.Console.Glob)
		if err != nil {
			e.warn.Warnf("provision: console transport: %v", err)
			e.to(EventDeviceMissing)
			e.sleep(retryDelay)
			return
		}
		e.warn.Reset()

		con, err := e.openConsole(path)
		if err != nil {
			log.Printf("provision: open console: %v", err)
			e.sleep(retryDelay)
			return
		}
		e.session = con
		e.pastBanner = false
	}

	// ---- ready banner (skipped once seen) ----

	if !e.pastBanner {
		_, _, err := e.session.Await([]console.Pattern{console.Text(p.Console.Ready)}, bannerTimeout)
		if err != nil {
			if errors.Is(err, console.ErrClosed) {
				e.dropSession()
				e.to(EventStreamClosed)
				return
			}
			e.warn.Warnf("provision: no ready banner yet: %v", err)
			e.to(EventTimeout)
			return
		}
		e.pastBanner = true
	}
	e.to(EventDeviceReady)

	// ---- test verdict ----

	e.op.Banner("Device provisioning")
	testWait := time.Duration(p.TestWaitS) * time.Second
	e.op.Notice("Waiting for the on-board test suite (up to %s)...", testWait)

	idx, _, err := e.session.Await(
		[]console.Pattern{console.Text("ALL TESTS PASSED"), console.Text("TESTS FAILED")},
		testWait,
	)
	if err != nil {
		if errors.Is(err, console.ErrClosed) {
			e.dropSession()
			e.to(EventStreamClosed)
			return
		}
		// Stays in awaiting-test-result; the session and the consumed
		// banner survive, so the next iteration re-enters this wait.
		e.warn.Warnf("provision: no test verdict within %s, still waiting", testWait)
		e.to(EventTimeout)
		return
	}
	e.warn.Reset()

	if idx == 1 {
		e.to(EventTestsFailed)
		e.op.Notice("Device reported TESTS FAILED; discarding this run.")
		if err := e.op.AckKeypress("Swap the device and press any key to retry."); err != nil {
			log.Printf("provision: operator ack: %v", err)
		}
		e.pastBanner = false
		return
	}
	e.to(EventTestsPassed)

	// ---- reference measurement ----

	hz, err := e.measure()
	if err != nil {
		// Abort the run but keep the console session: the instrument
		// failing says nothing about the console transport.
		log.Printf("provision: measurement: %v", err)
		e.to(EventMeasureFailed)
		e.pastBanner = false
		return
	}
	e.to(EventMeasured)
	log.Printf("provision: reference clock %d Hz", hz)

	// ---- environment variables ----

	if err := e.writeEnv("refclk", strconv.FormatInt(hz, 10)); err != nil {
		e.fail("setenv refclk", err)
		return
	}
	if err := e.writeEnv("model", p.Env.Model); err != nil {
		e.fail("setenv model", err)
		return
	}
	e.to(EventEnvWritten)

	// ---- flash ----

	fl := e.newFlasher(e.session)
	part, err := fl.Probe()
	if err != nil {
		e.fail("sf probe", err)
		return
	}
	log.Printf("provision: flash part %s", part)

	if err := fl.WriteAll(e.regions()); err != nil {
		e.fail("flash", err)
		return
	}
	e.to(EventFlashed)

	// ---- operator MAC input ----

	mac, err := e.promptMAC()
	if err != nil {
		e.fail("mac input", err)
		return
	}
	e.to(EventMACAccepted)

	// ---- persist environment ----

	if err := e.writeEnv("ethaddr", mac); err != nil {
		e.fail("setenv ethaddr", err)
		return
	}
	if err := e.saveEnv(); err != nil {
		e.fail("saveenv", err)
		return
	}
	e.to(EventEnvSaved)

	e.op.Notice("Provisioning complete: %s (refclk %d Hz)", mac, hz)
	if err := e.op.AckKeypress("Remove the device and press any key for the next one."); err != nil {
		log.Printf("provision: operator ack: %v", err)
	}

	// The next device gets a fresh session.
	e.dropSession()
}

// to advances the run state through the pure transition function.
func (e *Engine) to(ev Event) {
	e.state = Next(e.state, ev)
}

// fail logs the failing step and maps the error onto a recovery action.
func (e *Engine) fail(step string, err error) {
	log.Printf("provision: %s: %v", step, err)

	switch {
	case errors.Is(err, console.ErrClosed):
		e.dropSession()
		e.to(EventStreamClosed)
	case errors.Is(err, console.ErrTimeout):
		e.to(EventTimeout)
	default:
		e.to(EventProtocolFault)
	}
	// The device's state is unknown after a mid-run fault; expect a
	// power cycle and a fresh banner.
	if e.session != nil {
		e.pastBanner = false
	}
}

func (e *Engine) dropSession() {
	if e.session != nil {
		_ = e.session.Close()
		e.session = nil
	}
	e.pastBanner = false
}

func (e *Engine) measure() (int64, error) {
	path, err := e.locatePath(e.cfg.Provisioner.Instrument.Glob)
	if err != nil {
		return 0, err
	}
	ctr, err := e.openCounter(path)
	if err != nil {
		return 0, err
	}
	defer ctr.Close()
	return ctr.MeasureFrequency()
}

func (e *Engine) writeEnv(key, value string) error {
	if err := e.session.Send(fmt.Sprintf("setenv %s %s", key, value)); err != nil {
		return err
	}
	_, _, err := e.session.Await(
		[]console.Pattern{console.Text(e.cfg.Provisioner.Console.Prompt)},
		promptTimeout,
	)
	return err
}

func (e *Engine) saveEnv() error {
	if err := e.session.Send("saveenv"); err != nil {
		return err
	}
	if _, _, err := e.session.Await([]console.Pattern{console.Text("OK")}, saveTimeout); err != nil {
		return err
	}
	_, _, err := e.session.Await(
		[]console.Pattern{console.Text(e.cfg.Provisioner.Console.Prompt)},
		promptTimeout,
	)
	return err
}

// promptMAC re-prompts until the operator supplies a valid suffix.
func (e *Engine) promptMAC() (string, error) {
	for {
		suffix, err := e.op.PromptLine("Enter the last 4 hex digits of the label MAC: ")
		if err != nil {
			return "", err
		}
		mac, err := CanonicalMAC(e.cfg.Provisioner.Env.MACPrefix, suffix)
		if err != nil {
			e.op.Notice("Invalid suffix %q: need exactly 4 hex digits (separators ':', '-', '.' allowed).", suffix)
			continue
		}
		return mac, nil
	}
}

func (e *Engine) regions() []flash.Region {
	cfgRegions := e.cfg.Provisioner.Flash.Regions
	out := make([]flash.Region, 0, len(cfgRegions))
	for _, r := range cfgRegions {
		out = append(out, flash.Region{
			File:    r.File,
			Offset:  r.Offset,
			Size:    r.Size,
			Erase:   r.Erase,
			Timeout: time.Duration(r.TimeoutS) * time.Second,
		})
	}
	return out
}
