// internal/config/normalize.go
package config

// Bench defaults. These match the fixtures the rig was built around and
// apply only when the YAML leaves a field unset.
const (
	DefaultConsoleBaud    = 115200
	DefaultInstrumentBaud = 9600
	DefaultGPIBAddr       = 16
	DefaultExpectedHz     = 40_000_000
	DefaultToleranceHz    = 5_000
	DefaultTestWaitS      = 1800
	DefaultWriteTimeoutS  = 30
	DefaultUpdateTimeoutS = 60
	DefaultPrompt         = "=> "
	DefaultReady          = "Hit any key"
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	p := &cfg.Provisioner

	if p.Console.Baud == 0 {
		p.Console.Baud = DefaultConsoleBaud
	}
	if p.Console.Prompt == "" {
		p.Console.Prompt = DefaultPrompt
	}
	if p.Console.Ready == "" {
		p.Console.Ready = DefaultReady
	}

	if p.Instrument.Baud == 0 {
		p.Instrument.Baud = DefaultInstrumentBaud
	}
	if p.Instrument.Addr == 0 {
		p.Instrument.Addr = DefaultGPIBAddr
	}
	if p.Instrument.ExpectedHz == 0 {
		p.Instrument.ExpectedHz = DefaultExpectedHz
	}
	if p.Instrument.ToleranceHz == 0 {
		p.Instrument.ToleranceHz = DefaultToleranceHz
	}

	if p.TestWaitS == 0 {
		p.TestWaitS = DefaultTestWaitS
	}

	for i := range p.Flash.Regions {
		r := &p.Flash.Regions[i]
		if r.TimeoutS == 0 {
			if r.Erase {
				r.TimeoutS = DefaultUpdateTimeoutS
			} else {
				r.TimeoutS = DefaultWriteTimeoutS
			}
		}
	}
}
