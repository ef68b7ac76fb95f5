package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry so
// tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	NotesCreatedTotal  prometheus.Counter
	ConfirmationsTotal prometheus.Counter
	DeliveriesTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_requests_total",
				Help: "Total number of webhook/API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_request_duration_seconds",
				Help:    "Duration of webhook/API request handling",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		NotesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "delivery_notes_created_total",
				Help: "Total number of delivery notes created from inbound media",
			},
		),
		ConfirmationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "delivery_notes_confirmed_total",
				Help: "Total number of driver item confirmations applied",
			},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_notes_delivered_total",
				Help: "Total number of notes closed, by payment type",
			},
			[]string{"payment_type"},
		),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.NotesCreatedTotal,
		m.ConfirmationsTotal,
		m.DeliveriesTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
