package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	computations *prometheus.CounterVec
	computeTime  *prometheus.HistogramVec
	points       prometheus.Gauge
	seriesSize   prometheus.Gauge
	errorsTotal  *prometheus.CounterVec
	cacheResults *prometheus.CounterVec
	subscribers  prometheus.Gauge
	published    *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		computations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bollinger_computations_total",
				Help: "Number of Bollinger Bands computations",
			},
			[]string{"source"},
		),
		computeTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bollinger_compute_duration_seconds",
				Help:    "Duration of Bollinger Bands computations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"source"},
		),
		points: f.NewGauge(prometheus.GaugeOpts{
			Name: "bollinger_points",
			Help: "Number of band points produced by the last computation",
		}),
		seriesSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "bollinger_series_candles",
			Help: "Number of candles in the loaded series",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bollinger_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		cacheResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bollinger_cache_lookups_total",
				Help: "Cache lookups for stateless computations",
			},
			[]string{"result"},
		),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "bollinger_ws_subscribers",
			Help: "Connected websocket subscribers",
		}),
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bollinger_events_published_total",
				Help: "Band events handed to the publisher",
			},
			[]string{"status"},
		),
	}
}

// RecordComputation records one successful computation.
func (r *Recorder) RecordComputation(source string, points int, seconds float64) {
	r.computations.WithLabelValues(source).Inc()
	r.computeTime.WithLabelValues(source).Observe(seconds)
	r.points.Set(float64(points))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordSeriesSize(n int) {
	r.seriesSize.Set(float64(n))
}

func (r *Recorder) RecordCacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheResults.WithLabelValues(result).Inc()
}

func (r *Recorder) SetSubscribers(n int) {
	r.subscribers.Set(float64(n))
}

func (r *Recorder) RecordPublished(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.published.WithLabelValues(status).Inc()
}
