package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_ingested_total",
		Help: "Total number of payments ingested",
	})

	PaymentsReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_replayed_total",
		Help: "Total number of webhook replays caught by technical dedupe",
	})

	DuplicateCasesOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_cases_opened_total",
		Help: "Total number of duplicate cases opened",
	})

	DuplicateCasesResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_cases_resolved_total",
		Help: "Total number of duplicate cases resolved",
	}, []string{"resolution"})

	InvoiceOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoice_orders_created_total",
		Help: "Total number of invoice orders created",
	})

	TicketLoginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afip_ticket_logins_total",
		Help: "Total number of fresh WSAA logins performed",
	})

	TicketHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afip_ticket_hits_total",
		Help: "Total number of ticket reuses without a login",
	}, []string{"source"})

	VouchersIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afip_vouchers_issued_total",
		Help: "Total number of vouchers granted a CAE",
	})

	VouchersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afip_vouchers_failed_total",
		Help: "Total number of failed voucher issuance attempts",
	}, []string{"reason"})

	VoucherIssueLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "afip_voucher_issue_latency_seconds",
		Help:    "Latency of voucher issuance calls",
		Buckets: prometheus.DefBuckets,
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_orders_failed_total",
		Help: "Total number of invoice orders parked in failed",
	}, []string{"reason"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
