package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cjeanneret/PrusaCam/internal/config"
	"github.com/cjeanneret/PrusaCam/internal/debug"
	"github.com/cjeanneret/PrusaCam/internal/hw/camera"
	"github.com/cjeanneret/PrusaCam/internal/hw/camera/v4l2"
	"github.com/cjeanneret/PrusaCam/internal/hw/gpio"
	"github.com/cjeanneret/PrusaCam/internal/logic/dispatch"
	"github.com/cjeanneret/PrusaCam/internal/logic/endpoint"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
	"github.com/cjeanneret/PrusaCam/internal/logic/source"
	"github.com/cjeanneret/PrusaCam/internal/metrics"
	"github.com/cjeanneret/PrusaCam/internal/upload"
	"github.com/cjeanneret/PrusaCam/internal/web"
)

const envPrefix = "PRUSACAM"

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		log.Fatalf("prusacam: %v", err)
	}
}

// options are the command-line overrides applied on top of the config file.
type options struct {
	ConfigPath string
	DebugLevel int // -1 = use the config file
	Mock       bool
}

// newRootCmd builds the command; runFn receives the resolved options.
func newRootCmd(runFn func(context.Context, options) error) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "prusacam",
		Short: "Capture webcam snapshots and upload them to PrusaConnect",
		Long: `Periodically grabs a frame from every configured V4L2 camera and PUTs it
to each upload endpoint whose interval has elapsed. An optional GPIO switch
gates capture; send SIGUSR1 to invert its polarity.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFn(cmd.Context(), optionsFrom(v))
		},
	}

	flags := cmd.Flags()
	flags.String("config", config.DefaultPath, "path to the YAML config file")
	flags.Int("debug-level", -1, "override runtime.debug_level (0-4); -1 keeps the file value")
	flags.Bool("mock", false, "use mock GPIO and a canned camera frame")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	return cmd
}

func optionsFrom(v *viper.Viper) options {
	return options{
		ConfigPath: v.GetString("config"),
		DebugLevel: v.GetInt("debug-level"),
		Mock:       v.GetBool("mock"),
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOptions(cfg *config.Config, opts options) error {
	if opts.DebugLevel >= 0 {
		cfg.Runtime.DebugLevel = opts.DebugLevel
	}
	if opts.Mock {
		cfg.Runtime.MockGPIO = true
		cfg.Runtime.MockCamera = true
	}
	return cfg.Validate()
}

// newGrabber selects the frame source implementation.
func newGrabber(cfg *config.Config) camera.Grabber {
	if cfg.Runtime.MockCamera {
		return camera.NewMockGrabber()
	}
	return v4l2.NewGrabber()
}

// app is the wired process: one gate, one loop and its observers.
type app struct {
	cfg         *config.Config
	toggle      *gate.Toggle
	gate        gate.Gate
	loop        *dispatch.Loop
	tracker     *web.Tracker
	metrics     *metrics.Collector
	broadcaster *web.StatusBroadcaster
}

func newApp(cfg *config.Config, open gate.OpenDriverFunc, grabber camera.Grabber) (*app, error) {
	toggle := &gate.Toggle{}

	debug.Section("Initialization")
	debug.Step(1, "Initializing gate")
	g, err := gate.FromConfig(cfg, open, toggle)
	if err != nil {
		return nil, fmt.Errorf("init gate: %w", err)
	}

	debug.Step(2, "Building endpoint table")
	table, err := endpoint.FromConfig(cfg.Endpoints)
	if err != nil {
		if cerr := g.Close(); cerr != nil {
			debug.Errorf("closing gate failed: %v", cerr)
		}
		return nil, err
	}
	for _, e := range table.All() {
		debug.PrintStruct("Endpoint", e)
	}

	debug.Step(3, "Opening camera sources")
	sources := source.FromConfig(cfg.Cameras, grabber)

	broadcaster := web.NewStatusBroadcaster()
	tracker := web.NewTracker(broadcaster, toggle)
	for _, src := range sources {
		tracker.AddCamera(src.Name(), src.Device())
		debug.PrintStruct("Camera", src.Config())
	}
	collector := metrics.New()

	debug.Step(4, "Creating upload client")
	client := upload.New(cfg.UploadTimeout())

	return &app{
		cfg:         cfg,
		toggle:      toggle,
		gate:        g,
		loop:        dispatch.NewLoop(g, sources, table, client, tracker, collector),
		tracker:     tracker,
		metrics:     collector,
		broadcaster: broadcaster,
	}, nil
}

// switchToggle returns the toggle when a physical switch backs the gate,
// nil otherwise, so the HTTP surface can refuse toggles it cannot honor.
func (a *app) switchToggle() *gate.Toggle {
	if _, ok := a.gate.(*gate.Switch); ok {
		return a.toggle
	}
	return nil
}

func (a *app) Close() error {
	return a.gate.Close()
}

// watchToggle turns each received signal into a toggle request until ctx ends.
func watchToggle(ctx context.Context, sig <-chan os.Signal, toggle *gate.Toggle) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			debug.Info("Received %v: gate polarity toggle requested", s)
			toggle.Request()
		}
	}
}

func run(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	debug.Init(cfg.Runtime.DebugLevel)
	defer debug.Sync()
	debug.Summary("PrusaCam")
	debug.Value("Config path", opts.ConfigPath)
	debug.Value("Debug level", cfg.Runtime.DebugLevel)
	debug.Value("Cameras", len(cfg.Cameras))
	debug.Value("Endpoints", len(cfg.Endpoints))
	debug.Value("Mock GPIO", cfg.Runtime.MockGPIO)
	debug.Value("Mock camera", cfg.Runtime.MockCamera)

	a, err := newApp(cfg, gpio.NewDriver, newGrabber(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("closing gate failed: %v", err)
		}
	}()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go watchToggle(ctx, usr1, a.toggle)

	if cfg.Runtime.StatusAddr != "" {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(a.broadcaster)))
		handlers := web.NewHandlers(a.broadcaster, a.tracker, a.switchToggle(), a.metrics.Handler())
		srv := web.NewServer(cfg.Runtime.StatusAddr, handlers)
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Errorf("status server: %v", err)
			}
		}()
	}

	debug.Section("Capture loop")
	err = a.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		debug.Info("Shutting down")
		return nil
	}
	return err
}
