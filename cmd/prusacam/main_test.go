package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/PrusaCam/internal/config"
	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/hw/camera"
	"github.com/cjeanneret/PrusaCam/internal/hw/camera/v4l2"
	"github.com/cjeanneret/PrusaCam/internal/hw/gpio"
	"github.com/cjeanneret/PrusaCam/internal/logic/endpoint"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
)

// ---------- command line ----------

func executeRoot(t *testing.T, args ...string) options {
	t.Helper()
	var got options
	cmd := newRootCmd(func(ctx context.Context, opts options) error {
		got = opts
		return nil
	})
	if args == nil {
		args = []string{} // nil would fall back to os.Args
	}
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute(%v): %v", args, err)
	}
	return got
}

func TestRootCmd_Defaults(t *testing.T) {
	got := executeRoot(t)
	want := options{ConfigPath: config.DefaultPath, DebugLevel: -1, Mock: false}
	if got != want {
		t.Errorf("options = %+v, want %+v", got, want)
	}
}

func TestRootCmd_Flags(t *testing.T) {
	got := executeRoot(t, "--config", "/etc/prusacam.yml", "--debug-level", "4", "--mock")
	want := options{ConfigPath: "/etc/prusacam.yml", DebugLevel: 4, Mock: true}
	if got != want {
		t.Errorf("options = %+v, want %+v", got, want)
	}
}

func TestRootCmd_Environment(t *testing.T) {
	t.Setenv("PRUSACAM_CONFIG", "/tmp/env.yml")
	t.Setenv("PRUSACAM_DEBUG_LEVEL", "3")
	t.Setenv("PRUSACAM_MOCK", "true")

	got := executeRoot(t)
	want := options{ConfigPath: "/tmp/env.yml", DebugLevel: 3, Mock: true}
	if got != want {
		t.Errorf("options = %+v, want %+v", got, want)
	}
}

func TestRootCmd_FlagBeatsEnvironment(t *testing.T) {
	t.Setenv("PRUSACAM_DEBUG_LEVEL", "3")
	if got := executeRoot(t, "--debug-level", "1"); got.DebugLevel != 1 {
		t.Errorf("DebugLevel = %d, want 1", got.DebugLevel)
	}
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	cmd := newRootCmd(func(context.Context, options) error { return nil })
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for positional argument")
	}
}

// ---------- applyOptions / loadConfig ----------

const minimalYAML = `
cameras:
  - name: Printer
    device: /dev/video0
    token: tok
    fingerprint: fp
    resolutionx: 640
    resolutiony: 480
endpoints:
  - name: connect
    interval: 10
    snapshot_url: %s/snapshot
    info_url: %s/info
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyOptions(t *testing.T) {
	cfg, err := config.Parse([]byte(strings.ReplaceAll(minimalYAML, "%s", "http://x")))
	if err != nil {
		t.Fatal(err)
	}

	if err := applyOptions(cfg, options{DebugLevel: -1}); err != nil {
		t.Fatal(err)
	}
	if cfg.Runtime.DebugLevel != 2 || cfg.Runtime.MockGPIO || cfg.Runtime.MockCamera {
		t.Errorf("no-op options changed runtime: %+v", cfg.Runtime)
	}

	if err := applyOptions(cfg, options{DebugLevel: 0, Mock: true}); err != nil {
		t.Fatal(err)
	}
	if cfg.Runtime.DebugLevel != 0 || !cfg.Runtime.MockGPIO || !cfg.Runtime.MockCamera {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}

	if err := applyOptions(cfg, options{DebugLevel: 9}); err == nil {
		t.Error("expected error for debug level 9")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(options{ConfigPath: filepath.Join(t.TempDir(), "nope.yml"), DebugLevel: -1})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestNewGrabber(t *testing.T) {
	cfg := &config.Config{}
	if _, ok := newGrabber(cfg).(*v4l2.Grabber); !ok {
		t.Error("default grabber should be V4L2")
	}
	cfg.Runtime.MockCamera = true
	if _, ok := newGrabber(cfg).(*camera.MockGrabber); !ok {
		t.Error("mock_camera should select the mock grabber")
	}
}

// ---------- wiring ----------

type hit struct {
	method, path, token string
}

func recordingServer(t *testing.T) (*httptest.Server, func() []hit) {
	t.Helper()
	var mu sync.Mutex
	var hits []hit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		hits = append(hits, hit{r.Method, r.URL.Path, r.Header.Get("Token")})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []hit {
		mu.Lock()
		defer mu.Unlock()
		return append([]hit(nil), hits...)
	}
}

func TestNewApp_EndToEndTick(t *testing.T) {
	srv, hits := recordingServer(t)
	path := writeConfig(t, strings.ReplaceAll(minimalYAML, "%s", srv.URL))

	cfg, err := loadConfig(options{ConfigPath: path, DebugLevel: 0, Mock: true})
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(cfg, gpio.NewDriver, newGrabber(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	rep := a.loop.Tick(context.Background(), time.Unix(1_700_000_000, 0))
	if !rep.Permitted || rep.Captured != 1 || rep.Uploads != 2 || rep.UploadErr != 0 {
		t.Fatalf("report = %+v", rep)
	}

	got := hits()
	want := []hit{
		{http.MethodPut, "/info", "tok"},
		{http.MethodPut, "/snapshot", "tok"},
	}
	if len(got) != len(want) {
		t.Fatalf("hits = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hit[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if a.switchToggle() != nil {
		t.Error("no switch configured: HTTP toggle should be refused")
	}

	snap := a.tracker.Snapshot()
	if len(snap.Cameras) != 1 || snap.Cameras[0].Captures != 1 {
		t.Errorf("tracker cameras = %+v", snap.Cameras)
	}
}

func TestNewApp_GateFromMockGPIO(t *testing.T) {
	srv, hits := recordingServer(t)
	yaml := strings.ReplaceAll(minimalYAML, "%s", srv.URL) + "gpio_switch: 17\ngpio_led: 27\n"
	cfg, err := loadConfig(options{ConfigPath: writeConfig(t, yaml), DebugLevel: 0, Mock: true})
	if err != nil {
		t.Fatal(err)
	}

	drv := &gpio.MockDriver{}
	open := func(bool) (gpio.Driver, error) { return drv, nil }
	a, err := newApp(cfg, open, newGrabber(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, ok := a.gate.(*gate.Switch); !ok {
		t.Fatalf("gate = %T, want *gate.Switch", a.gate)
	}
	if a.switchToggle() != a.toggle {
		t.Error("switch gate should expose its toggle over HTTP")
	}

	// Pull-up idles high: active-low blocks.
	if rep := a.loop.Tick(context.Background(), time.Unix(1_700_000_000, 0)); rep.Permitted {
		t.Fatal("idle switch should block capture")
	}
	if len(hits()) != 0 {
		t.Fatalf("blocked tick uploaded: %+v", hits())
	}

	a.toggle.Request()
	if rep := a.loop.Tick(context.Background(), time.Unix(1_700_000_001, 0)); !rep.Permitted || rep.Captured != 1 {
		t.Fatalf("after toggle report = %+v", rep)
	}
	if drv.Level(27) != gpio.High {
		t.Error("LED should be lit while capture is permitted")
	}
}

func TestNewApp_RequiredGPIOFailure(t *testing.T) {
	yaml := strings.ReplaceAll(minimalYAML, "%s", "http://x") +
		"gpio_switch: 17\ngpio_led: 27\nruntime:\n  gpio_required: true\n"
	cfg, err := loadConfig(options{ConfigPath: writeConfig(t, yaml), DebugLevel: 0})
	if err != nil {
		t.Fatal(err)
	}
	open := func(bool) (gpio.Driver, error) { return nil, errors.New("no /dev/gpiomem") }
	if _, err := newApp(cfg, open, camera.NewMockGrabber()); !errors.Is(err, gate.ErrGPIOInit) {
		t.Errorf("err = %v, want ErrGPIOInit", err)
	}
}

// closeFailDriver is a mock whose Close fails.
type closeFailDriver struct {
	gpio.MockDriver
	closed int
}

func (d *closeFailDriver) Close() error {
	d.closed++
	return errors.New("pins busy")
}

func TestNewApp_EndpointErrorReleasesGate(t *testing.T) {
	var logs bytes.Buffer
	debug.Init(debug.LevelInfo)
	debug.SetOutput(&logs)
	t.Cleanup(func() {
		debug.SetOutput(os.Stdout)
		debug.Init(debug.LevelOff)
	})

	sw, led := 17, 27
	cfg := &config.Config{GPIOSwitch: &sw, GPIOLed: &led} // no endpoints, unvalidated
	drv := &closeFailDriver{}
	open := func(bool) (gpio.Driver, error) { return drv, nil }

	if _, err := newApp(cfg, open, camera.NewMockGrabber()); !errors.Is(err, endpoint.ErrNoEndpoints) {
		t.Fatalf("err = %v, want ErrNoEndpoints", err)
	}
	if drv.closed != 1 {
		t.Errorf("driver closed %d times, want 1", drv.closed)
	}
	if !strings.Contains(logs.String(), "closing gate failed: pins busy") {
		t.Errorf("close error not logged: %q", logs.String())
	}
}

// ---------- watchToggle ----------

func TestWatchToggle(t *testing.T) {
	toggle := &gate.Toggle{}
	sig := make(chan os.Signal)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchToggle(ctx, sig, toggle)
		close(done)
	}()

	sig <- os.Interrupt // unbuffered: returns once received
	deadline := time.After(time.Second)
	for !toggle.Pending() {
		select {
		case <-deadline:
			t.Fatal("toggle not requested")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchToggle did not return on cancel")
	}
}
