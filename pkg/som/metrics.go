package som

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer directions reported to MetricsObserver.OnTransfer.
const (
	TransferUpload   = "upload"
	TransferDownload = "download"
)

// MetricsObserver receives engine events.
type MetricsObserver interface {
	// OnWinner is called after every winner search. passes counts the
	// device reduction passes beyond stage 1.
	OnWinner(duration time.Duration, passes int, err error)

	// OnUpdate is called after every neighborhood update.
	OnUpdate(duration time.Duration, radius int, err error)

	// OnTransfer reports a grid transfer between host and device.
	OnTransfer(direction string, bytes int64, duration time.Duration)

	// OnState reports a lifecycle transition.
	OnState(state State)
}

// NoopMetricsObserver discards every event.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnWinner(time.Duration, int, error)      {}
func (NoopMetricsObserver) OnUpdate(time.Duration, int, error)      {}
func (NoopMetricsObserver) OnTransfer(string, int64, time.Duration) {}
func (NoopMetricsObserver) OnState(State)                           {}

// PrometheusObserver exports engine events as Prometheus metrics.
type PrometheusObserver struct {
	opLatency     *prometheus.HistogramVec
	opErrors      *prometheus.CounterVec
	devicePasses  prometheus.Counter
	radius        prometheus.Histogram
	transferBytes *prometheus.CounterVec
	training      prometheus.Gauge
}

// NewPrometheusObserver creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nornicsom_operation_duration_seconds",
			Help:    "Latency of SOM device operations.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nornicsom_operation_errors_total",
			Help: "Failed SOM operations.",
		}, []string{"op"}),
		devicePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nornicsom_reduction_device_passes_total",
			Help: "Argmin passes run on the device after stage 1.",
		}),
		radius: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nornicsom_update_radius",
			Help:    "Neighborhood radius used per update.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nornicsom_transfer_bytes_total",
			Help: "Grid bytes moved between host and device.",
		}, []string{"direction"}),
		training: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nornicsom_training",
			Help: "1 while an engine is in the training state.",
		}),
	}
	reg.MustRegister(o.opLatency, o.opErrors, o.devicePasses, o.radius, o.transferBytes, o.training)
	return o
}

func (o *PrometheusObserver) observe(op string, d time.Duration, err error) {
	o.opLatency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		o.opErrors.WithLabelValues(op).Inc()
	}
}

func (o *PrometheusObserver) OnWinner(d time.Duration, passes int, err error) {
	o.observe("winner", d, err)
	o.devicePasses.Add(float64(passes))
}

func (o *PrometheusObserver) OnUpdate(d time.Duration, radius int, err error) {
	o.observe("update", d, err)
	if err == nil {
		o.radius.Observe(float64(radius))
	}
}

func (o *PrometheusObserver) OnTransfer(direction string, bytes int64, d time.Duration) {
	o.observe(direction, d, nil)
	o.transferBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (o *PrometheusObserver) OnState(s State) {
	if s == StateTraining {
		o.training.Set(1)
	} else {
		o.training.Set(0)
	}
}
