// Package metrics exposes capture-loop counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/PrusaCam/internal/logic/dispatch"
	"github.com/cjeanneret/PrusaCam/internal/logic/gate"
	"github.com/cjeanneret/PrusaCam/internal/logic/source"
)

const namespace = "prusacam"

// Capture results used as the "result" label.
const (
	ResultOK          = "ok"
	ResultDeviceError = "device_error"
	ResultEmptyFrame  = "empty_frame"
	ResultError       = "error"
)

// Collector implements dispatch.Observer and owns its own registry.
type Collector struct {
	registry *prometheus.Registry

	gateChecks  *prometheus.CounterVec
	gateOpen    prometheus.Gauge
	gateFlips   prometheus.Counter
	captures    *prometheus.CounterVec
	lastCapture *prometheus.GaugeVec
	frameBytes  *prometheus.HistogramVec
	uploads     *prometheus.CounterVec
}

// New creates a Collector with process and Go runtime collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "Gate evaluations by outcome.",
		}, []string{"permitted"}),
		gateOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_permitted",
			Help:      "1 if the last gate evaluation permitted capture.",
		}),
		gateFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_polarity_flips_total",
			Help:      "Polarity inversions applied.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Capture attempts by camera and result.",
		}, []string{"camera", "result"}),
		lastCapture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_last_run_timestamp_seconds",
			Help:      "Unix time of the camera's last completed capture.",
		}, []string{"camera"}),
		frameBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "Size of captured frames.",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 8),
		}, []string{"camera"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by endpoint, kind and result.",
		}, []string{"endpoint", "kind", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.gateChecks, c.gateOpen, c.gateFlips,
		c.captures, c.lastCapture, c.frameBytes,
		c.uploads,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) GateEvaluated(r gate.Report) {
	if r.Flipped {
		c.gateFlips.Inc()
	}
	if r.Permitted {
		c.gateChecks.WithLabelValues("true").Inc()
		c.gateOpen.Set(1)
	} else {
		c.gateChecks.WithLabelValues("false").Inc()
		c.gateOpen.Set(0)
	}
}

func (c *Collector) CaptureFinished(e dispatch.CaptureEvent) {
	result := CaptureResult(e.Err)
	c.captures.WithLabelValues(e.Camera, result).Inc()
	if result != ResultDeviceError {
		c.lastCapture.WithLabelValues(e.Camera).Set(float64(e.LastRun.Unix()))
	}
	if result == ResultOK {
		c.frameBytes.WithLabelValues(e.Camera).Observe(float64(e.Size))
	}
}

func (c *Collector) UploadFinished(e dispatch.UploadEvent) {
	result := ResultOK
	if e.Err != nil {
		result = ResultError
	}
	c.uploads.WithLabelValues(e.Endpoint, string(e.Kind), result).Inc()
}

// CaptureResult maps a capture error to its label value.
func CaptureResult(err error) string {
	var devErr *source.DeviceError
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, source.ErrEmptyFrame):
		return ResultEmptyFrame
	case errors.As(err, &devErr):
		return ResultDeviceError
	default:
		return ResultError
	}
}
