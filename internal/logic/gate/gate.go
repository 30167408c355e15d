// Package gate decides whether capture is currently permitted, based on a
// physical switch read through a GPIO input, and mirrors that decision on a
// status LED.
package gate

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cjeanneret/PrusaCam/internal/config"
	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/hw/gpio"
)

// ErrGPIOInit wraps any failure to acquire the switch or LED pin.
var ErrGPIOInit = errors.New("gpio init failed")

// Report is the outcome of one gate evaluation.
type Report struct {
	Enabled   bool       // false when no switch is configured
	ActiveLow bool       // polarity used for this evaluation
	Level     gpio.Level // switch level read this evaluation
	Permitted bool
	Flipped   bool  // polarity was inverted by a pending toggle
	Err       error // switch read error, if any
}

// Gate is either a *Switch (enabled) or Disabled.
type Gate interface {
	// Evaluate reads the switch, applies any pending polarity toggle and
	// drives the LED to match the returned decision.
	Evaluate() Report
	// CanCapture is Evaluate().Permitted.
	CanCapture() bool
	Close() error
}

// Toggle is the pending polarity-flip flag. Request may be called from any
// goroutine (signal handler, HTTP handler); Consume is called once per tick.
type Toggle struct {
	pending atomic.Bool
}

// Request asks for the polarity to be inverted on the next evaluation.
// Several requests before that evaluation collapse into one flip.
func (t *Toggle) Request() {
	t.pending.Store(true)
}

// Consume reports whether a flip was requested and clears the request.
func (t *Toggle) Consume() bool {
	return t.pending.Swap(false)
}

// Pending reports whether a flip is waiting without clearing it.
func (t *Toggle) Pending() bool {
	return t.pending.Load()
}

// Disabled is the gate used when no switch is configured: capture is always
// permitted and no LED is driven. Toggle requests have no polarity to flip;
// Evaluate discards them so they do not stay pending.
type Disabled struct {
	Toggle *Toggle // may be nil
}

func (d Disabled) Evaluate() Report {
	if d.Toggle != nil && d.Toggle.Consume() {
		debug.Info("Gate polarity toggle ignored: no switch configured")
	}
	return Report{Permitted: true}
}

func (Disabled) CanCapture() bool { return true }
func (Disabled) Close() error     { return nil }

// Switch is an enabled gate backed by two GPIO pins.
type Switch struct {
	gpio      gpio.Driver
	switchPin int
	ledPin    int
	activeLow bool
	toggle    *Toggle
}

// NewSwitch configures switchPin as a pull-up input and ledPin as an output
// (initially low). toggle may be nil when runtime flips are not wanted.
func NewSwitch(g gpio.Driver, switchPin, ledPin int, activeLow bool, toggle *Toggle) (*Switch, error) {
	if err := g.SetupPin(switchPin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("%w: switch pin %d: %v", ErrGPIOInit, switchPin, err)
	}
	if err := g.SetupPin(ledPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("%w: led pin %d: %v", ErrGPIOInit, ledPin, err)
	}
	if err := g.WritePin(ledPin, gpio.Low); err != nil {
		return nil, fmt.Errorf("%w: led pin %d: %v", ErrGPIOInit, ledPin, err)
	}

	return &Switch{
		gpio:      g,
		switchPin: switchPin,
		ledPin:    ledPin,
		activeLow: activeLow,
		toggle:    toggle,
	}, nil
}

// ActiveLow returns the current polarity.
func (s *Switch) ActiveLow() bool {
	return s.activeLow
}

func (s *Switch) Evaluate() Report {
	r := Report{Enabled: true}

	if s.toggle != nil && s.toggle.Consume() {
		s.activeLow = !s.activeLow
		r.Flipped = true
		debug.Info("Gate polarity switched to %s", polarityName(s.activeLow))
	}
	r.ActiveLow = s.activeLow

	level, err := s.gpio.ReadPin(s.switchPin)
	if err != nil {
		r.Err = fmt.Errorf("read switch pin %d: %w", s.switchPin, err)
		debug.Error(r.Err)
	} else {
		r.Level = level
		r.Permitted = Permitted(level, s.activeLow)
	}

	led := gpio.Low
	if r.Permitted {
		led = gpio.High
	}
	if err := s.gpio.WritePin(s.ledPin, led); err != nil {
		debug.Errorf("write led pin %d: %v", s.ledPin, err)
	}

	return r
}

func (s *Switch) CanCapture() bool {
	return s.Evaluate().Permitted
}

// Close releases the GPIO driver.
func (s *Switch) Close() error {
	return s.gpio.Close()
}

// Permitted is the gate predicate: active-low permits on Low, active-high on High.
func Permitted(level gpio.Level, activeLow bool) bool {
	return (level == gpio.Low) == activeLow
}

func polarityName(activeLow bool) string {
	if activeLow {
		return "active-low"
	}
	return "active-high"
}

// OpenDriverFunc acquires a GPIO driver; gpio.NewDriver in production.
type OpenDriverFunc func(mock bool) (gpio.Driver, error)

// FromConfig builds the gate described by cfg. A missing or partial pin pair
// yields Disabled. Acquisition failures also yield Disabled, unless
// runtime.gpio_required is set, in which case the error is returned.
func FromConfig(cfg *config.Config, open OpenDriverFunc, toggle *Toggle) (Gate, error) {
	if cfg.SwitchPartial() {
		debug.Warn("gpio_switch and gpio_led must be configured together; gate disabled")
		return Disabled{Toggle: toggle}, nil
	}
	if !cfg.SwitchConfigured() {
		debug.Verbose("No GPIO switch configured; capture always permitted")
		return Disabled{Toggle: toggle}, nil
	}

	fail := func(err error) (Gate, error) {
		if cfg.Runtime.GPIORequired {
			return nil, err
		}
		debug.Warn("%v; gate disabled", err)
		return Disabled{Toggle: toggle}, nil
	}

	drv, err := open(cfg.Runtime.MockGPIO)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrGPIOInit, err))
	}

	sw, err := NewSwitch(drv, *cfg.GPIOSwitch, *cfg.GPIOLed, !cfg.Runtime.ActiveHigh, toggle)
	if err != nil {
		if cerr := drv.Close(); cerr != nil {
			debug.Errorf("closing GPIO driver failed: %v", cerr)
		}
		return fail(err)
	}

	debug.Info("Gate enabled: switch=%d led=%d %s", *cfg.GPIOSwitch, *cfg.GPIOLed, polarityName(sw.activeLow))
	return sw, nil
}
