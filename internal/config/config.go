// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Provisioner ProvisionerConfig `yaml:"provisioner"`
}

type ProvisionerConfig struct {
	Console    ConsoleConfig    `yaml:"console"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Flash      FlashConfig      `yaml:"flash"`
	Env        EnvConfig        `yaml:"env"`

	// TestWaitS bounds the wait for the device's test-suite verdict.
	TestWaitS int `yaml:"test_wait_s"`
}

// ---- CONSOLE ----

type ConsoleConfig struct {
	Glob string `yaml:"glob"`
	Baud int    `yaml:"baud"`

	// Prompt is the firmware prompt anchor ("=> " for stock U-Boot).
	Prompt string `yaml:"prompt"`

	// Ready is the banner anchor that marks the console as alive.
	Ready string `yaml:"ready"`
}

// ---- INSTRUMENT ----

type InstrumentConfig struct {
	Glob string `yaml:"glob"`
	Baud int    `yaml:"baud"`

	// Addr is the GPIB bus address of the counter behind the adapter.
	Addr int `yaml:"addr"`

	ExpectedHz  int64 `yaml:"expected_hz"`
	ToleranceHz int64 `yaml:"tolerance_hz"`
}

// ---- FLASH ----

type FlashConfig struct {
	// ScratchAddr is the RAM address images are staged at before writing.
	ScratchAddr uint32 `yaml:"scratch_addr"`

	Regions []RegionConfig `yaml:"regions"`
}

// RegionConfig is one image/partition tuple. Regions are written in
// listed order; later regions are never re-checked against earlier ones.
type RegionConfig struct {
	File     string `yaml:"file"`
	Offset   uint32 `yaml:"offset"`
	Size     uint32 `yaml:"size"`
	Erase    bool   `yaml:"erase"`
	TimeoutS int    `yaml:"timeout_s"`
}

// ---- ENVIRONMENT ----

type EnvConfig struct {
	Model string `yaml:"model"`

	// MACPrefix is the fixed leading four octets of the device address,
	// as eight hex digits. The operator supplies the remaining two octets.
	MACPrefix string `yaml:"mac_prefix"`
}

// Load reads and decodes a YAML config file. It performs no validation.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return &cfg, nil
}
