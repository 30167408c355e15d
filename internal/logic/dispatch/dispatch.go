// Package dispatch runs the capture loop: every tick it checks the gate,
// captures the cameras that are due and fans each frame out to the
// endpoints that are due.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/logic/endpoint"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
	"github.com/cjeanneret/PrusaCam/internal/logic/source"
	"github.com/cjeanneret/PrusaCam/internal/upload"
)

// TickInterval is the fixed pause between two ticks, blocked or not.
const TickInterval = time.Second

// Uploader pushes frames and metadata to one URL. *upload.Client implements it.
type Uploader interface {
	PutImage(ctx context.Context, url string, image []byte, cred upload.Credentials) error
	PutInfo(ctx context.Context, url string, info upload.Info, cred upload.Credentials) error
}

// Observer is notified of every decision the loop takes. Calls happen on the
// loop goroutine, in order.
type Observer interface {
	GateEvaluated(r gate.Report)
	CaptureFinished(e CaptureEvent)
	UploadFinished(e UploadEvent)
}

// CaptureEvent describes one capture attempt.
type CaptureEvent struct {
	Time    time.Time
	Camera  string
	Device  string
	Size    int
	LastRun time.Time
	Err     error // nil, *source.DeviceError or source.ErrEmptyFrame
}

// UploadEvent describes one PUT attempt.
type UploadEvent struct {
	Time     time.Time
	Camera   string
	Endpoint string
	Kind     upload.Kind
	Err      error
}

// Report summarizes one tick.
type Report struct {
	Permitted bool
	Captured  int // frames successfully captured
	Failed    int // capture attempts that produced no frame
	Uploads   int // upload attempts, both kinds
	UploadErr int // failed upload attempts
}

// Loop is the scheduler. It is not safe for concurrent use: Tick and Run
// must be called from a single goroutine.
type Loop struct {
	gate      gate.Gate
	sources   []*source.Source
	endpoints *endpoint.Table
	uploader  Uploader
	observers []Observer

	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewLoop wires a loop. g must not be nil; use gate.Disabled{} for no gate.
func NewLoop(g gate.Gate, sources []*source.Source, endpoints *endpoint.Table, u Uploader, observers ...Observer) *Loop {
	return &Loop{
		gate:      g,
		sources:   sources,
		endpoints: endpoints,
		uploader:  u,
		observers: observers,
		Now:       time.Now,
		Sleep:     sleepContext,
	}
}

// Sources returns the camera sources in configured order.
func (l *Loop) Sources() []*source.Source {
	return l.sources
}

// Run ticks until ctx is cancelled. Cancellation is only observed between
// ticks: a tick in progress always completes.
func (l *Loop) Run(ctx context.Context) error {
	debug.Info("Capture loop started: %d camera(s), %d endpoint(s), min interval %ds",
		len(l.sources), l.endpoints.Len(), l.endpoints.MinInterval())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Tick(context.WithoutCancel(ctx), l.Now())
		if err := l.Sleep(ctx, TickInterval); err != nil {
			return err
		}
	}
}

// Tick runs one pass: gate check, then every camera in order.
func (l *Loop) Tick(ctx context.Context, now time.Time) Report {
	var rep Report

	gr := l.gate.Evaluate()
	l.notifyGate(gr)
	if !gr.Permitted {
		debug.Live("Gate closed (switch %s, %s); skipping tick", gr.Level, polarity(gr.ActiveLow))
		return rep
	}
	rep.Permitted = true

	minInterval := l.endpoints.MinInterval()
	for _, src := range l.sources {
		// Elapsed time must be read before a capture moves LastRun.
		since := src.Since(now)
		frame, err := src.CaptureIfDue(now, minInterval)
		if frame == nil && err == nil {
			continue
		}

		l.notifyCapture(CaptureEvent{
			Time:    now,
			Camera:  src.Name(),
			Device:  src.Device(),
			Size:    len(frame),
			LastRun: src.LastRun(),
			Err:     err,
		})
		if err != nil {
			rep.Failed++
			logCaptureError(src, err)
			continue
		}
		rep.Captured++
		debug.Shot(src.Name(), src.Device(), len(frame))

		l.fanOut(ctx, now, src, since, frame, &rep)
	}
	return rep
}

func (l *Loop) fanOut(ctx context.Context, now time.Time, src *source.Source, since time.Duration, frame []byte, rep *Report) {
	cam := src.Config()
	cred := upload.CredentialsOf(cam)

	due := l.endpoints.Due(since)
	if skipped := l.endpoints.Len() - len(due); skipped > 0 {
		debug.Verbose("%d endpoint(s) not due for %s (%ds since last run)", skipped, cam.Name, uint64(since/time.Second))
	}

	for _, ep := range due {
		if ep.HasInfo() {
			err := l.uploader.PutInfo(ctx, ep.InfoURL, upload.InfoOf(cam), cred)
			l.recordUpload(now, cam.Name, ep.Name, upload.KindInfo, err, rep)
		}

		err := l.uploader.PutImage(ctx, ep.SnapshotURL, frame, cred)
		l.recordUpload(now, cam.Name, ep.Name, upload.KindImage, err, rep)
	}
}

func (l *Loop) recordUpload(now time.Time, camera, endpoint string, kind upload.Kind, err error, rep *Report) {
	rep.Uploads++
	if err != nil {
		rep.UploadErr++
		debug.Errorf("Error sending %s to %s for camera %s: %v", kind, endpoint, camera, err)
	} else {
		debug.Upload(string(kind), endpoint, camera)
	}
	l.notifyUpload(UploadEvent{Time: now, Camera: camera, Endpoint: endpoint, Kind: kind, Err: err})
}

func logCaptureError(src *source.Source, err error) {
	if errors.Is(err, source.ErrEmptyFrame) {
		debug.Warn("Empty frame from camera %s (%s)", src.Name(), src.Device())
		return
	}
	debug.Errorf("Error grabbing image from camera %s: %v", src.Device(), err)
}

func (l *Loop) notifyGate(r gate.Report) {
	for _, o := range l.observers {
		o.GateEvaluated(r)
	}
}

func (l *Loop) notifyCapture(e CaptureEvent) {
	for _, o := range l.observers {
		o.CaptureFinished(e)
	}
}

func (l *Loop) notifyUpload(e UploadEvent) {
	for _, o := range l.observers {
		o.UploadFinished(e)
	}
}

func polarity(activeLow bool) string {
	if activeLow {
		return "active-low"
	}
	return "active-high"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
