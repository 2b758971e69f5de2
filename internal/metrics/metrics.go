// Package metrics exposes the Prometheus collectors shared by the API and
// worker processes. Collectors register on the default registry; serve them
// with promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contas_http_requests_total",
		Help: "HTTP requests by method, path pattern, and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contas_http_request_duration_seconds",
		Help:    "HTTP request latency by path pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contas_settlements_total",
		Help: "Completed settlements by kind (full or partial).",
	}, []string{"kind"})

	SettlementConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contas_settlement_conflicts_total",
		Help: "Settlement attempts rejected because an item was already settled.",
	})

	SettledAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contas_settled_amount_cents_total",
		Help: "Total settled amount in cents by currency.",
	}, []string{"currency"})

	InvoicesBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contas_invoices_built_total",
		Help: "Invoice projections built from shared transactions.",
	})

	NotificationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contas_notifications_created_total",
		Help: "Notification rows created by the worker.",
	})

	InstallmentsMaterializedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contas_installments_materialized_total",
		Help: "Future installments materialized by the background processor.",
	})
)
