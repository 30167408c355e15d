package web

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/logic/dispatch"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
)

// GateStatus is the last gate evaluation.
type GateStatus struct {
	Enabled   bool      `json:"enabled"`
	ActiveLow bool      `json:"active_low"`
	Level     string    `json:"switch_level,omitempty"`
	Permitted bool      `json:"permitted"`
	Checked   time.Time `json:"checked"`
	Error     string    `json:"error,omitempty"`
}

// CameraStatus is the last capture outcome for one camera.
type CameraStatus struct {
	Name      string    `json:"name"`
	Device    string    `json:"device"`
	LastRun   time.Time `json:"last_run"`
	LastTry   time.Time `json:"last_attempt"`
	LastSize  int       `json:"last_size"`
	LastError string    `json:"last_error,omitempty"`
	Captures  int       `json:"captures"`
	Failures  int       `json:"failures"`
}

// UploadStatus is the last outcome of one (endpoint, camera, kind) triple.
type UploadStatus struct {
	Endpoint  string    `json:"endpoint"`
	Camera    string    `json:"camera"`
	Kind      string    `json:"kind"`
	Time      time.Time `json:"time"`
	OK        bool      `json:"ok"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"failures"`
}

// Snapshot is the JSON document served by GET /status.
type Snapshot struct {
	Started        time.Time      `json:"started"`
	TogglePending  bool           `json:"toggle_pending"`
	StreamClients  int            `json:"stream_clients"`
	Gate           GateStatus     `json:"gate"`
	Cameras        []CameraStatus `json:"cameras"`
	Uploads        []UploadStatus `json:"uploads"`
	BlockedTicks   int            `json:"blocked_ticks"`
	PermittedTicks int            `json:"permitted_ticks"`
}

// Tracker implements dispatch.Observer. It keeps the latest state for the
// status endpoint and forwards events to the broadcaster. Events arrive on
// the loop goroutine; Snapshot may be called from HTTP handlers.
type Tracker struct {
	mu          sync.Mutex
	started     time.Time
	gate        GateStatus
	cameras     []CameraStatus
	cameraIndex map[string]int
	uploads     []UploadStatus
	uploadIndex map[string]int
	blocked     int
	permitted   int

	broadcaster *StatusBroadcaster
	toggle      *gate.Toggle
	now         func() time.Time
}

// NewTracker creates a tracker. broadcaster and toggle may be nil.
func NewTracker(broadcaster *StatusBroadcaster, toggle *gate.Toggle) *Tracker {
	return &Tracker{
		started:     time.Now(),
		cameraIndex: make(map[string]int),
		uploadIndex: make(map[string]int),
		broadcaster: broadcaster,
		toggle:      toggle,
		now:         time.Now,
	}
}

// AddCamera registers a camera so it shows up before its first capture.
func (t *Tracker) AddCamera(name, device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.camera(name, device)
}

// camera must be called with mu held.
func (t *Tracker) camera(name, device string) *CameraStatus {
	i, ok := t.cameraIndex[name]
	if !ok {
		i = len(t.cameras)
		t.cameraIndex[name] = i
		t.cameras = append(t.cameras, CameraStatus{Name: name, Device: device})
	}
	return &t.cameras[i]
}

func (t *Tracker) GateEvaluated(r gate.Report) {
	t.mu.Lock()
	t.gate = GateStatus{
		Enabled:   r.Enabled,
		ActiveLow: r.ActiveLow,
		Permitted: r.Permitted,
		Checked:   t.now(),
	}
	if r.Enabled {
		t.gate.Level = r.Level.String()
	}
	if r.Err != nil {
		t.gate.Error = r.Err.Error()
	}
	if r.Permitted {
		t.permitted++
	} else {
		t.blocked++
	}
	t.mu.Unlock()

	if t.broadcaster == nil {
		return
	}
	if r.Flipped {
		t.broadcaster.Publish(StatusEvent{Level: "info", Kind: "gate", Msg: fmt.Sprintf("polarity switched (active_low=%v)", r.ActiveLow)})
	}
	if !r.Permitted {
		t.broadcaster.Publish(StatusEvent{Level: "info", Kind: "gate", Msg: "capture blocked by switch"})
	}
}

func (t *Tracker) CaptureFinished(e dispatch.CaptureEvent) {
	t.mu.Lock()
	c := t.camera(e.Camera, e.Device)
	c.LastTry = e.Time
	c.LastRun = e.LastRun
	if e.Err != nil {
		c.Failures++
		c.LastError = e.Err.Error()
	} else {
		c.Captures++
		c.LastSize = e.Size
		c.LastError = ""
	}
	t.mu.Unlock()

	if t.broadcaster == nil {
		return
	}
	if e.Err != nil {
		t.broadcaster.Publish(StatusEvent{Level: "error", Kind: "capture", Camera: e.Camera, Msg: e.Err.Error()})
		return
	}
	t.broadcaster.Publish(StatusEvent{Level: "info", Kind: "capture", Camera: e.Camera, Msg: fmt.Sprintf("captured %d bytes", e.Size)})
}

func (t *Tracker) UploadFinished(e dispatch.UploadEvent) {
	key := e.Endpoint + "\x00" + e.Camera + "\x00" + string(e.Kind)

	t.mu.Lock()
	i, ok := t.uploadIndex[key]
	if !ok {
		i = len(t.uploads)
		t.uploadIndex[key] = i
		t.uploads = append(t.uploads, UploadStatus{Endpoint: e.Endpoint, Camera: e.Camera, Kind: string(e.Kind)})
	}
	u := &t.uploads[i]
	u.Time = e.Time
	u.OK = e.Err == nil
	if e.Err != nil {
		u.Failures++
		u.LastError = e.Err.Error()
	} else {
		u.LastError = ""
	}
	t.mu.Unlock()

	if t.broadcaster == nil {
		return
	}
	evt := StatusEvent{Level: "info", Kind: "upload", Camera: e.Camera, Endpoint: e.Endpoint, Msg: string(e.Kind) + " sent"}
	if e.Err != nil {
		evt.Level = "error"
		evt.Msg = e.Err.Error()
	}
	t.broadcaster.Publish(evt)
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Started:        t.started,
		Gate:           t.gate,
		Cameras:        append([]CameraStatus(nil), t.cameras...),
		Uploads:        append([]UploadStatus(nil), t.uploads...),
		BlockedTicks:   t.blocked,
		PermittedTicks: t.permitted,
	}
	if t.toggle != nil {
		s.TogglePending = t.toggle.Pending()
	}
	if t.broadcaster != nil {
		s.StreamClients = t.broadcaster.Clients()
	}
	return s
}
