// Package metrics exports evolution progress as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements evo.Recorder on a private registry so several runs in
// one process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	ratings     *prometheus.CounterVec
	ratingValue prometheus.Histogram
	generations prometheus.Counter
	current     prometheus.Gauge
	runs        *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		ratings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "melodyevo_ratings_total",
			Help: "Ratings received, by rating value",
		}, []string{"rating"}),
		ratingValue: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "melodyevo_rating",
			Help:    "Distribution of ratings received",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		generations: factory.NewCounter(prometheus.CounterOpts{
			Name: "melodyevo_generations_total",
			Help: "Generations fully or partially evaluated",
		}),
		current: factory.NewGauge(prometheus.GaugeOpts{
			Name: "melodyevo_generation",
			Help: "Most recently completed generation",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "melodyevo_runs_total",
			Help: "Finished runs by outcome",
		}, []string{"outcome"}),
	}
}

func (r *Recorder) RatingObserved(_ int, rating int) {
	r.ratings.WithLabelValues(strconv.Itoa(rating)).Inc()
	r.ratingValue.Observe(float64(rating))
}

func (r *Recorder) GenerationCompleted(generation int) {
	r.generations.Inc()
	r.current.Set(float64(generation))
}

func (r *Recorder) RunFinished(outcome string) {
	r.runs.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
