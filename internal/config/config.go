package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file is looked up when none is given.
const DefaultPath = "config.yml"

// CameraConfig describes one local camera and the credentials its frames
// are uploaded with. Token and Fingerprint are forwarded verbatim.
type CameraConfig struct {
	Name        string `yaml:"name"`
	Device      string `yaml:"device"`      // e.g. /dev/video0
	Token       string `yaml:"token"`       // sent as the Token header
	Fingerprint string `yaml:"fingerprint"` // sent as the Fingerprint header
	ResolutionX uint32 `yaml:"resolutionx"`
	ResolutionY uint32 `yaml:"resolutiony"`
}

// EndpointConfig is one upload destination.
// InfoURL is optional: when empty, no metadata is sent to this endpoint.
type EndpointConfig struct {
	Name        string `yaml:"name"`
	Interval    uint64 `yaml:"interval"` // cadence in whole seconds, >= 1
	SnapshotURL string `yaml:"snapshot_url"`
	InfoURL     string `yaml:"info_url,omitempty"`
}

// RuntimeConfig contains generic process knobs (logging, mocks, status server).
type RuntimeConfig struct {
	DebugLevel      int    `yaml:"debug_level"`       // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO        bool   `yaml:"mock_gpio"`         // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	MockCamera      bool   `yaml:"mock_camera"`       // serve a canned frame instead of opening devices
	GPIORequired    bool   `yaml:"gpio_required"`     // abort startup if the configured pins cannot be acquired
	ActiveHigh      bool   `yaml:"active_high"`       // initial gate polarity (default active-low)
	StatusAddr      string `yaml:"status_addr"`       // e.g. ":8080"; empty disables the status server
	UploadTimeoutMs int    `yaml:"upload_timeout_ms"` // 0 = no client-side timeout
}

// Config aggregates all application configuration.
type Config struct {
	Cameras    []CameraConfig   `yaml:"cameras"`
	GPIOSwitch *int             `yaml:"gpio_switch,omitempty"` // BCM pin of the gate switch (optional)
	GPIOLed    *int             `yaml:"gpio_led,omitempty"`    // BCM pin of the status LED (optional)
	Endpoints  []EndpointConfig `yaml:"endpoints"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

const defaultDebugLevel = 2

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	// Fields absent from the document keep these values.
	cfg := Config{
		Runtime: RuntimeConfig{DebugLevel: defaultDebugLevel},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the capture loop relies on.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("endpoints: at least one endpoint is required")
	}
	for i, e := range c.Endpoints {
		if e.Interval < 1 {
			return fmt.Errorf("endpoints[%d] (%s): interval must be >= 1, got %d", i, e.Name, e.Interval)
		}
		if e.SnapshotURL == "" {
			return fmt.Errorf("endpoints[%d] (%s): snapshot_url is required", i, e.Name)
		}
	}

	for i, cam := range c.Cameras {
		if cam.Device == "" {
			return fmt.Errorf("cameras[%d] (%s): device is required", i, cam.Name)
		}
		if cam.ResolutionX == 0 || cam.ResolutionY == 0 {
			return fmt.Errorf("cameras[%d] (%s): resolutionx and resolutiony must be > 0, got %dx%d",
				i, cam.Name, cam.ResolutionX, cam.ResolutionY)
		}
	}

	if c.GPIOSwitch != nil && *c.GPIOSwitch < 0 {
		return fmt.Errorf("gpio_switch must be >= 0, got %d", *c.GPIOSwitch)
	}
	if c.GPIOLed != nil && *c.GPIOLed < 0 {
		return fmt.Errorf("gpio_led must be >= 0, got %d", *c.GPIOLed)
	}

	if c.Runtime.DebugLevel < 0 || c.Runtime.DebugLevel > 4 {
		return fmt.Errorf("runtime.debug_level must be between 0 and 4, got %d", c.Runtime.DebugLevel)
	}
	if c.Runtime.UploadTimeoutMs < 0 {
		return fmt.Errorf("runtime.upload_timeout_ms must be >= 0, got %d", c.Runtime.UploadTimeoutMs)
	}
	return nil
}

// SwitchConfigured reports whether gpio_switch and gpio_led are both set.
func (c *Config) SwitchConfigured() bool {
	return c.GPIOSwitch != nil && c.GPIOLed != nil
}

// SwitchPartial reports whether exactly one of gpio_switch and gpio_led is set.
func (c *Config) SwitchPartial() bool {
	return (c.GPIOSwitch == nil) != (c.GPIOLed == nil)
}

// UploadTimeout returns the HTTP client timeout (0 = none).
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Runtime.UploadTimeoutMs) * time.Millisecond
}
