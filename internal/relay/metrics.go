package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors the relay exposes for scraping. They
// are purely observational: nothing in the relay branches on a metric
// value, so a Metrics built against a private registry is safe to
// construct per-test without colliding with the default registerer.
type Metrics struct {
	ClientsConnected  prometheus.Gauge
	FramesPublished   prometheus.Counter
	FrameBytes        prometheus.Histogram
	FrameDiscards     prometheus.Counter
	PacingSleepMicros prometheus.Histogram
	InputIntervalSecs prometheus.Gauge
}

// NewMetrics registers the relay's collectors against reg. main passes
// its own prometheus.NewRegistry(), served on --metrics-addr; tests
// pass a fresh prometheus.NewRegistry() each to avoid
// duplicate-registration panics across table-driven subtests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streameye_clients_connected",
			Help: "Number of clients currently streaming.",
		}),
		FramesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "streameye_frames_published_total",
			Help: "Number of frames carved from stdin and published to the hub.",
		}),
		FrameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streameye_frame_bytes",
			Help:    "Size in bytes of published frames.",
			Buckets: []float64{1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}),
		FrameDiscards: factory.NewCounter(prometheus.CounterOpts{
			Name: "streameye_frame_discards_total",
			Help: "Number of times the input accumulator was discarded for overflowing.",
		}),
		PacingSleepMicros: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streameye_pacing_sleep_microseconds",
			Help:    "Adaptive sleep applied by the producer between publications.",
			Buckets: []float64{1000, 2000, 5000, 10000, 20000, 50000},
		}),
		InputIntervalSecs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streameye_input_interval_seconds",
			Help: "EWMA of the inter-frame interval observed at the input.",
		}),
	}
}
