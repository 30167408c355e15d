package gpio

import (
	"fmt"

	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// maxBCMPin is the highest BCM pin number exposed by the SoC.
const maxBCMPin = 53

// RPiDriver drives the gate switch and LED through /dev/gpiomem with go-rpio.
type RPiDriver struct {
	modes map[int]PinMode
}

// NewRPiRealDriver maps GPIO memory. It fails off a Raspberry Pi or when
// /dev/gpiomem is not accessible to the current user.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Opening GPIO through go-rpio")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return &RPiDriver{modes: make(map[int]PinMode)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if pin < 0 || pin > maxBCMPin {
		return fmt.Errorf("pin %d out of range (BCM 0-%d)", pin, maxBCMPin)
	}

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		// The switch closes to ground: an open switch reads high.
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("pin %d: unknown mode %d", pin, mode)
	}
	r.modes[pin] = mode
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	if mode, ok := r.modes[pin]; !ok || mode != Output {
		return fmt.Errorf("pin %d: write on a pin not set up as output", pin)
	}
	debug.GPIO("WritePin", pin, level)
	if level == High {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	if _, ok := r.modes[pin]; !ok {
		return Low, fmt.Errorf("pin %d: read on a pin that was not set up", pin)
	}
	level := Low
	if rpio.Pin(pin).Read() == rpio.High {
		level = High
	}
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// Close turns outputs off, releases pull resistors and unmaps GPIO memory.
func (r *RPiDriver) Close() error {
	for pin, mode := range r.modes {
		p := rpio.Pin(pin)
		if mode == Output {
			p.Low()
		}
		p.Input()
		p.PullOff()
		debug.Trace("Released pin %d", pin)
	}
	r.modes = make(map[int]PinMode)
	return rpio.Close()
}
