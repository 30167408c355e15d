// Package source tracks one camera: its configuration and the time it last
// produced a frame.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/config"
	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/hw/camera"
)

// ErrEmptyFrame is returned when the device opened but produced no bytes.
// LastRun is still advanced in that case.
var ErrEmptyFrame = errors.New("empty frame")

// DeviceError is returned when the device could not be opened, started or
// read. LastRun is not advanced, so the camera is retried on the next tick.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Source is the runtime state of one configured camera.
type Source struct {
	cfg     config.CameraConfig
	grabber camera.Grabber
	lastRun time.Time
}

// New creates a Source whose last run is the Unix epoch, so it is due on
// the first tick.
func New(cfg config.CameraConfig, g camera.Grabber) *Source {
	return &Source{
		cfg:     cfg,
		grabber: g,
		lastRun: time.Unix(0, 0),
	}
}

// FromConfig creates one Source per configured camera, in order.
func FromConfig(cams []config.CameraConfig, g camera.Grabber) []*Source {
	sources := make([]*Source, 0, len(cams))
	for _, c := range cams {
		sources = append(sources, New(c, g))
	}
	return sources
}

func (s *Source) Name() string                { return s.cfg.Name }
func (s *Source) Device() string              { return s.cfg.Device }
func (s *Source) Config() config.CameraConfig { return s.cfg }
func (s *Source) LastRun() time.Time          { return s.lastRun }

// Since returns the time elapsed since the last run, clamped at zero when
// the wall clock went backwards.
func (s *Source) Since(now time.Time) time.Duration {
	d := now.Sub(s.lastRun)
	if d < 0 {
		return 0
	}
	return d
}

// Due reports whether more than minInterval whole seconds elapsed since the
// last run.
func (s *Source) Due(now time.Time, minInterval uint64) bool {
	return Elapsed(s.Since(now), minInterval)
}

// Elapsed is the shared due rule: the elapsed time, truncated to whole
// seconds, is strictly greater than interval.
func Elapsed(since time.Duration, interval uint64) bool {
	return uint64(since/time.Second) > interval
}

// CaptureIfDue captures a frame when the source is due.
//
// It returns (nil, nil) when not due, (frame, nil) on success, a
// *DeviceError when the device failed, and ErrEmptyFrame when the device
// produced nothing. LastRun advances on success and on ErrEmptyFrame.
func (s *Source) CaptureIfDue(now time.Time, minInterval uint64) ([]byte, error) {
	if !s.Due(now, minInterval) {
		debug.Verbose("Camera %s not due (%s since last run)", s.cfg.Name, s.Since(now).Truncate(time.Second))
		return nil, nil
	}
	return s.Capture(now)
}

// Capture grabs a frame unconditionally.
func (s *Source) Capture(now time.Time) ([]byte, error) {
	frame, err := s.grabber.Grab(camera.NewRequest(s.cfg.Device, s.cfg.ResolutionX, s.cfg.ResolutionY))
	if err != nil {
		return nil, &DeviceError{Device: s.cfg.Device, Err: err}
	}

	s.advance(now)

	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	return frame, nil
}

func (s *Source) advance(now time.Time) {
	if now.After(s.lastRun) {
		s.lastRun = now
	}
}
