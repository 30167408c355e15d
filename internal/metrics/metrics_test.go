package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cjeanneret/PrusaCam/internal/logic/dispatch"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
	"github.com/cjeanneret/PrusaCam/internal/logic/source"
	"github.com/cjeanneret/PrusaCam/internal/upload"
)

func TestCaptureResult(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, ResultOK},
		{"empty", source.ErrEmptyFrame, ResultEmptyFrame},
		{"device", &source.DeviceError{Device: "/dev/video0", Err: errors.New("gone")}, ResultDeviceError},
		{"other", errors.New("?"), ResultError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CaptureResult(tc.err); got != tc.want {
				t.Errorf("CaptureResult = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCollector_Gate(t *testing.T) {
	c := New()
	c.GateEvaluated(gate.Report{Permitted: false})
	c.GateEvaluated(gate.Report{Permitted: true, Flipped: true})

	if v := testutil.ToFloat64(c.gateOpen); v != 1 {
		t.Errorf("gate_permitted = %v, want 1", v)
	}
	if v := testutil.ToFloat64(c.gateFlips); v != 1 {
		t.Errorf("flips = %v, want 1", v)
	}
	if v := testutil.ToFloat64(c.gateChecks.WithLabelValues("false")); v != 1 {
		t.Errorf("blocked checks = %v, want 1", v)
	}
}

func TestCollector_Captures(t *testing.T) {
	c := New()
	now := time.Unix(1700000000, 0)
	c.CaptureFinished(dispatch.CaptureEvent{Camera: "a", Size: 1000, LastRun: now})
	c.CaptureFinished(dispatch.CaptureEvent{Camera: "a", LastRun: now, Err: source.ErrEmptyFrame})
	c.CaptureFinished(dispatch.CaptureEvent{Camera: "b", LastRun: time.Unix(0, 0), Err: &source.DeviceError{Device: "/dev/video2"}})

	if v := testutil.ToFloat64(c.captures.WithLabelValues("a", ResultOK)); v != 1 {
		t.Errorf("a ok = %v", v)
	}
	if v := testutil.ToFloat64(c.captures.WithLabelValues("a", ResultEmptyFrame)); v != 1 {
		t.Errorf("a empty = %v", v)
	}
	if v := testutil.ToFloat64(c.captures.WithLabelValues("b", ResultDeviceError)); v != 1 {
		t.Errorf("b device = %v", v)
	}
	if v := testutil.ToFloat64(c.lastCapture.WithLabelValues("a")); v != 1700000000 {
		t.Errorf("last run a = %v", v)
	}
}

func TestCollector_UploadsAndHandler(t *testing.T) {
	c := New()
	c.UploadFinished(dispatch.UploadEvent{Endpoint: "connect", Kind: upload.KindImage})
	c.UploadFinished(dispatch.UploadEvent{Endpoint: "connect", Kind: upload.KindInfo, Err: errors.New("500")})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`prusacam_uploads_total{endpoint="connect",kind="image",result="ok"} 1`,
		`prusacam_uploads_total{endpoint="connect",kind="info",result="error"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCollector_ImplementsObserver(t *testing.T) {
	var _ dispatch.Observer = New()
}
