// Package v4l2 grabs still frames from local video devices through OpenCV's
// V4L2 backend.
package v4l2

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/hw/camera"
)

// Grabber opens the device for every request and closes it afterwards,
// so a camera unplugged between ticks is picked up again when it returns.
type Grabber struct{}

// NewGrabber creates a V4L2 grabber.
func NewGrabber() *Grabber {
	debug.Info("Using V4L2 camera grabber (gocv)")
	return &Grabber{}
}

func (g *Grabber) Grab(req camera.Request) ([]byte, error) {
	debug.Verbose("Grabbing image from camera %s", req.Device)

	capture, err := gocv.OpenVideoCaptureWithAPI(req.Device, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", camera.ErrDeviceOpen, req.Device, err)
	}
	defer capture.Close()

	if !capture.IsOpened() {
		return nil, fmt.Errorf("%w: %s", camera.ErrDeviceOpen, req.Device)
	}

	if req.Format != "" {
		capture.Set(gocv.VideoCaptureFOURCC, capture.ToCodec(req.Format))
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(req.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(req.Height))
	if req.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(req.FPS))
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := capture.Read(&img); !ok {
		return nil, fmt.Errorf("read frame from %s failed", req.Device)
	}
	if img.Empty() {
		return nil, nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode frame from %s: %w", req.Device, err)
	}
	defer buf.Close()

	// GetBytes aliases C memory released by buf.Close.
	frame := make([]byte, buf.Len())
	copy(frame, buf.GetBytes())
	return frame, nil
}
