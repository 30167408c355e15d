package camera

import (
	"github.com/cjeanneret/PrusaCam/internal/debug"
)

// placeholderJPEG is the smallest byte sequence that still starts and ends
// like a JPEG (SOI ... EOI). Remote endpoints only see opaque bytes.
var placeholderJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// MockGrabber returns a canned frame for every request.
// Used for development on a machine without a camera.
type MockGrabber struct {
	Frame []byte
}

// NewMockGrabber returns a MockGrabber serving a placeholder JPEG.
func NewMockGrabber() *MockGrabber {
	debug.Info("Using MOCK camera grabber (development mode)")
	frame := make([]byte, len(placeholderJPEG))
	copy(frame, placeholderJPEG)
	return &MockGrabber{Frame: frame}
}

func (m *MockGrabber) Grab(req Request) ([]byte, error) {
	debug.Trace("Mock grab %s %dx%d %s@%dfps", req.Device, req.Width, req.Height, req.Format, req.FPS)
	out := make([]byte, len(m.Frame))
	copy(out, m.Frame)
	return out, nil
}
