package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postscan/pkg/logger"
)

// Metrics holds the pipeline's Prometheus instruments on a private registry,
// so tests can create independent instances without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	PostsProcessed    *prometheus.CounterVec
	ImagesFetched     *prometheus.CounterVec
	InferenceRequests *prometheus.CounterVec
	InferenceTokens   prometheus.Counter
	StateSaves        prometheus.Counter
	PostDuration      prometheus.Histogram
}

// New creates a metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PostsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postscan",
			Name:      "posts_processed_total",
			Help:      "Posts handled by the pipeline, by outcome.",
		}, []string{"outcome"}),
		ImagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postscan",
			Name:      "images_fetched_total",
			Help:      "Image fetches, by source.",
		}, []string{"source"}),
		InferenceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postscan",
			Name:      "inference_requests_total",
			Help:      "Inference requests, by outcome.",
		}, []string{"outcome"}),
		InferenceTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postscan",
			Name:      "inference_tokens_total",
			Help:      "Tokens consumed across all inference requests.",
		}),
		StateSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "postscan",
			Name:      "state_saves_total",
			Help:      "Checkpoint flushes to disk.",
		}),
		PostDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "postscan",
			Name:      "post_duration_seconds",
			Help:      "Wall time spent per post, fetch plus inference.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	registry.MustRegister(
		m.PostsProcessed,
		m.ImagesFetched,
		m.InferenceRequests,
		m.InferenceTokens,
		m.StateSaves,
		m.PostDuration,
	)

	return m
}

// ObservePost records one finished post.
func (m *Metrics) ObservePost(outcome string, elapsed time.Duration) {
	m.PostsProcessed.WithLabelValues(outcome).Inc()
	m.PostDuration.Observe(elapsed.Seconds())
}

// Handler returns the scrape handler for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a scrape endpoint on addr in the background. Listen errors are
// logged, not fatal: a run without metrics is still a valid run.
func (m *Metrics) Serve(addr string, log logger.Logger) *http.Server {
	if log == nil {
		log = logger.GetLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.InfoWithFields("metrics endpoint listening", map[string]interface{}{
			"addr": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WarnWithFields("metrics endpoint stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return server
}
