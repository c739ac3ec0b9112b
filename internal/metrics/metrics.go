// Package metrics holds the Prometheus collectors of the fan-out layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Subscriptions
	ManagedSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fanout_managed_subscriptions",
		Help: "Subscriptions indexed by the subscription manager for owned partitions",
	}, []string{"type"})

	LocalSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_local_subscriptions",
		Help: "Subscriptions held by sessions on this node",
	})

	// Delivery
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_deliveries_total",
		Help: "The total number of subscription updates handed off for delivery",
	}, []string{"route"})

	DeliveryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_delivery_errors_total",
		Help: "The total number of subscription updates that could not be handed off",
	}, []string{"stage"})

	// Catch-up
	CatchUps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_catchups_total",
		Help: "The total number of catch-up fetches by result",
	}, []string{"type", "result"})

	// Queue
	DecodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_decode_failures_total",
		Help: "The total number of queue messages dropped because they could not be decoded",
	}, []string{"consumer"})

	QueuePublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_queue_published_total",
		Help: "The total number of queue publish attempts by result",
	}, []string{"result"})

	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "fanout_queue_publish_latency_seconds",
		Help: "The latency of queue publishes",
	})

	// Dispatch
	DispatchPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fanout_dispatch_pending",
		Help: "Tasks submitted to a keyed worker pool and not yet finished",
	}, []string{"pool"})

	// Server
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_http_requests_total",
		Help: "The total number of HTTP requests by route and status class",
	}, []string{"route", "class"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "fanout_http_request_duration_seconds",
		Help: "The latency of HTTP requests by route",
	}, []string{"route"})

	GRPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_grpc_requests_total",
		Help: "The total number of gRPC calls by method and code",
	}, []string{"method", "code"})
)

func init() {
	prometheus.MustRegister(ManagedSubscriptions)
	prometheus.MustRegister(LocalSubscriptions)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(DeliveryErrors)
	prometheus.MustRegister(CatchUps)
	prometheus.MustRegister(DecodeFailures)
	prometheus.MustRegister(QueuePublished)
	prometheus.MustRegister(PublishLatency)
	prometheus.MustRegister(DispatchPending)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
	prometheus.MustRegister(GRPCRequests)
}

// ObservePublish matches pubsub.PublisherOptions.OnPublish.
func ObservePublish(_ string, err error, latency time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	QueuePublished.WithLabelValues(result).Inc()
	PublishLatency.Observe(latency.Seconds())
}

// ObserveHTTP records one served request. Unmatched requests share the
// "unmatched" route so arbitrary paths cannot grow the label set.
func ObserveHTTP(route string, status int, latency time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()
	HTTPDuration.WithLabelValues(route).Observe(latency.Seconds())
}
