package camera

import "errors"

// Capture hints passed to every device. The upload side expects JPEG,
// so devices are asked for MJPG frames.
const (
	DefaultFPS    = 30
	DefaultFormat = "MJPG"
)

// ErrDeviceOpen is returned by a Grabber that cannot open or start its device.
var ErrDeviceOpen = errors.New("camera device could not be opened")

// Request describes one still-frame capture.
type Request struct {
	Device string // device locator, e.g. /dev/video0
	Width  uint32
	Height uint32
	FPS    int
	Format string // FOURCC, e.g. "MJPG"
}

// NewRequest builds a Request with the default frame-rate and format hints.
func NewRequest(device string, width, height uint32) Request {
	return Request{
		Device: device,
		Width:  width,
		Height: height,
		FPS:    DefaultFPS,
		Format: DefaultFormat,
	}
}

// Grabber is the high-level interface used by the rest of the application
// to get a single encoded frame out of a camera, regardless of the
// underlying driver.
//
// Grab returns an error when the device cannot be opened, started or read.
// A device that opened fine but produced no data returns (nil, nil).
type Grabber interface {
	Grab(req Request) ([]byte, error)
}

// GrabberFunc adapts a function to the Grabber interface.
type GrabberFunc func(req Request) ([]byte, error)

func (f GrabberFunc) Grab(req Request) ([]byte, error) { return f(req) }
