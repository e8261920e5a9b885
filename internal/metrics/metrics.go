package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors exposed by the diagnostics
// endpoint. It is constructed once in main and threaded into every
// component that needs to record an observation. Each Registry owns its
// own prometheus.Registry rather than registering into the global
// DefaultRegisterer, so constructing more than one in a process (as unit
// tests across packages do) never panics on a duplicate collector.
type Registry struct {
	Streaming  streamingVec
	Gateway    gatewayVec
	ImageCache imageCacheVec
	Store      storeVec

	reg *prometheus.Registry
}

type streamingVec struct {
	ActiveConnections prometheus.Gauge
	Reconnects         prometheus.Counter
	MessagesReceived   prometheus.Counter
	EventsPublished    prometheus.Counter
}

type gatewayVec struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SSEClients      prometheus.Gauge
}

type imageCacheVec struct {
	Hits    prometheus.Counter
	Misses  prometheus.Counter
	Evicted prometheus.Counter
}

type storeVec struct {
	QueriesTotal   *prometheus.CounterVec
	NotesCached    prometheus.Counter
}

// NewRegistry creates the Prometheus metrics collectors used across the
// notedeck core process.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Streaming: streamingVec{
			ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Name: "notedeck_streaming_connections_active",
				Help: "Number of accounts currently holding a live upstream WebSocket connection",
			}),
			Reconnects: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_streaming_reconnects_total",
				Help: "Total number of upstream streaming reconnect attempts across all accounts",
			}),
			MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_streaming_messages_received_total",
				Help: "Total number of frames received from upstream streaming connections",
			}),
			EventsPublished: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_events_published_total",
				Help: "Total number of events published on the internal event bus",
			}),
		},
		Gateway: gatewayVec{
			RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notedeck_gateway_requests_total",
				Help: "Total number of gateway HTTP requests by route and status class",
			}, []string{"route", "status"}),
			RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "notedeck_gateway_request_duration_seconds",
				Help:    "Gateway HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),
			SSEClients: factory.NewGauge(prometheus.GaugeOpts{
				Name: "notedeck_gateway_sse_clients",
				Help: "Number of UI clients currently attached to the event stream",
			}),
		},
		ImageCache: imageCacheVec{
			Hits: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_image_cache_hits_total",
				Help: "Total number of image cache lookups served from disk",
			}),
			Misses: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_image_cache_misses_total",
				Help: "Total number of image cache lookups that required an upstream fetch",
			}),
			Evicted: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_image_cache_evicted_total",
				Help: "Total number of image cache entries removed by size-cap eviction",
			}),
		},
		Store: storeVec{
			QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notedeck_store_queries_total",
				Help: "Total number of local store queries by operation and outcome",
			}, []string{"operation", "outcome"}),
			NotesCached: factory.NewCounter(prometheus.CounterOpts{
				Name: "notedeck_store_notes_cached_total",
				Help: "Total number of notes written into the local cache",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing this registry's Prometheus
// metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
