// internal/config/validate.go
package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	p := &cfg.Provisioner

	// ------------------------------------------------------------
	// TRANSPORT GLOBS
	// ------------------------------------------------------------

	if p.Console.Glob == "" {
		return fmt.Errorf("config: console.glob required")
	}
	if p.Instrument.Glob == "" {
		return fmt.Errorf("config: instrument.glob required")
	}
	if p.Console.Baud < 0 {
		return fmt.Errorf("config: console.baud must be >= 0")
	}

	// ------------------------------------------------------------
	// INSTRUMENT TOLERANCE GATE
	// ------------------------------------------------------------

	if p.Instrument.ExpectedHz < 0 {
		return fmt.Errorf("config: instrument.expected_hz must be >= 0")
	}
	if p.Instrument.ToleranceHz < 0 {
		return fmt.Errorf("config: instrument.tolerance_hz must be >= 0")
	}
	if p.Instrument.Addr < 0 || p.Instrument.Addr > 30 {
		return fmt.Errorf("config: instrument.addr %d out of GPIB range 0-30", p.Instrument.Addr)
	}

	// ------------------------------------------------------------
	// ENVIRONMENT
	// ------------------------------------------------------------

	if p.Env.MACPrefix != "" {
		if len(p.Env.MACPrefix) != 8 {
			return fmt.Errorf("config: env.mac_prefix must be 8 hex digits, got %q", p.Env.MACPrefix)
		}
		for i := 0; i < len(p.Env.MACPrefix); i++ {
			c := p.Env.MACPrefix[i]
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				return fmt.Errorf("config: env.mac_prefix must be lower-case hex, got %q", p.Env.MACPrefix)
			}
		}
	}

	// ------------------------------------------------------------
	// FLASH REGION GEOMETRY
	// ------------------------------------------------------------

	if len(p.Flash.Regions) == 0 {
		return fmt.Errorf("config: at least one flash region required")
	}

	type span struct {
		start uint64
		end   uint64
		file  string
	}

	var spans []span

	for i, r := range p.Flash.Regions {
		if r.File == "" {
			return fmt.Errorf("config: flash region %d: file required", i)
		}
		if r.Size == 0 {
			return fmt.Errorf("config: flash region %d (%s): size must be > 0", i, r.File)
		}
		if r.TimeoutS < 0 {
			return fmt.Errorf("config: flash region %d (%s): timeout_s must be >= 0", i, r.File)
		}

		// Regions are written in listed order, and the writer never
		// re-checks geometry: the listing itself must be strictly
		// ascending by offset.
		if i > 0 {
			prev := p.Flash.Regions[i-1]
			if r.Offset <= prev.Offset {
				return fmt.Errorf(
					"config: flash regions must be listed in increasing offset order: %s offset=0x%x listed after %s offset=0x%x",
					r.File, r.Offset, prev.File, prev.Offset,
				)
			}
		}

		start := uint64(r.Offset)
		end := start + uint64(r.Size) - 1

		for _, s := range spans {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"config: flash region overlap: %s range=0x%x-0x%x overlaps with %s range=0x%x-0x%x",
					r.File, start, end, s.file, s.start, s.end,
				)
			}
		}

		spans = append(spans, span{start: start, end: end, file: r.File})
	}

	return nil
}
